// internal/volume/conform.go
package volume

// Conform returns a new volume with the depth of v and the given spatial extent.
// Each spatial axis is padded with zeros on the high side when too small and
// cropped to its low indices when too large. v is never modified.
func Conform(v *Volume, height, width int) *Volume {
	out := New(v.Depth, height, width)

	rows := min(v.Height, height)
	cols := min(v.Width, width)

	for d := 0; d < v.Depth; d++ {
		src := v.Slice(d)
		dst := out.Slice(d)
		for h := 0; h < rows; h++ {
			copy(dst[h*width:h*width+cols], src[h*v.Width:h*v.Width+cols])
		}
	}

	return out
}

// Conformant reports whether v already has the given spatial extent.
func Conformant(v *Volume, height, width int) bool {
	return v.Height == height && v.Width == width
}
