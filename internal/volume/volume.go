// internal/volume/volume.go

// Package volume holds the 3D intensity volumes and label masks that flow
// through slice-wise segmentation. Both are indexed [depth, height, width]
// and stored row-major; axis 0 is the slicing axis.
package volume

import (
	"fmt"
)

// Shape is the extent of a volume or mask along its three axes.
type Shape struct {
	Depth  int
	Height int
	Width  int
}

// Voxels returns the number of elements described by the shape.
func (s Shape) Voxels() int {
	return s.Depth * s.Height * s.Width
}

// SliceLen returns the number of elements in one depth slice.
func (s Shape) SliceLen() int {
	return s.Height * s.Width
}

// Valid reports whether every extent is positive.
func (s Shape) Valid() bool {
	return s.Depth > 0 && s.Height > 0 && s.Width > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("[%d,%d,%d]", s.Depth, s.Height, s.Width)
}

// Volume is a 3D array of scalar intensities.
type Volume struct {
	Shape
	Data []float64
}

// New allocates a zero-filled volume.
func New(depth, height, width int) *Volume {
	s := Shape{Depth: depth, Height: height, Width: width}
	return &Volume{Shape: s, Data: make([]float64, s.Voxels())}
}

// FromData wraps data as a volume without copying it.
// The data length must match depth*height*width.
func FromData(depth, height, width int, data []float64) (*Volume, error) {
	s := Shape{Depth: depth, Height: height, Width: width}
	if !s.Valid() {
		return nil, fmt.Errorf("invalid volume shape %s", s)
	}
	if len(data) != s.Voxels() {
		return nil, fmt.Errorf("volume data has wrong size: got %d, expected %d for shape %s",
			len(data), s.Voxels(), s)
	}
	return &Volume{Shape: s, Data: data}, nil
}

func (v *Volume) index(d, h, w int) int {
	return (d*v.Height+h)*v.Width + w
}

// At returns the intensity at (d, h, w).
func (v *Volume) At(d, h, w int) float64 {
	return v.Data[v.index(d, h, w)]
}

// Set stores an intensity at (d, h, w).
func (v *Volume) Set(d, h, w int, val float64) {
	v.Data[v.index(d, h, w)] = val
}

// Slice returns a view of depth slice i. Writes through the view modify the volume.
func (v *Volume) Slice(i int) []float64 {
	n := v.SliceLen()
	return v.Data[i*n : (i+1)*n]
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{Shape: v.Shape, Data: data}
}

// Label is a per-voxel class index.
type Label = uint8

// MaxClasses is the largest class count a Mask can represent.
const MaxClasses = 256

// Mask is a 3D array of class labels, one per voxel.
type Mask struct {
	Shape
	Labels []Label
}

// NewMask allocates a mask filled with label 0.
func NewMask(s Shape) *Mask {
	return &Mask{Shape: s, Labels: make([]Label, s.Voxels())}
}

// At returns the label at (d, h, w).
func (m *Mask) At(d, h, w int) Label {
	return m.Labels[(d*m.Height+h)*m.Width+w]
}

// Slice returns a view of depth slice i.
func (m *Mask) Slice(i int) []Label {
	n := m.SliceLen()
	return m.Labels[i*n : (i+1)*n]
}
