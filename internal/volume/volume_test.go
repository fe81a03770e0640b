// internal/volume/volume_test.go
package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ramp fills v with 1, 2, 3, ... in storage order.
func ramp(d, h, w int) *Volume {
	v := New(d, h, w)
	for i := range v.Data {
		v.Data[i] = float64(i + 1)
	}
	return v
}

func TestFromData(t *testing.T) {
	v, err := FromData(1, 2, 2, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.At(0, 1, 0))

	_, err = FromData(1, 2, 2, []float64{1, 2})
	assert.ErrorContains(t, err, "wrong size")

	_, err = FromData(0, 2, 2, nil)
	assert.ErrorContains(t, err, "invalid volume shape")
}

func TestConform_PadsHighSide(t *testing.T) {
	v := ramp(2, 3, 3)
	orig := v.Clone()

	out := Conform(v, 5, 5)

	require.Equal(t, Shape{Depth: 2, Height: 5, Width: 5}, out.Shape)
	for d := 0; d < 2; d++ {
		for h := 0; h < 5; h++ {
			for w := 0; w < 5; w++ {
				if h < 3 && w < 3 {
					assert.Equal(t, v.At(d, h, w), out.At(d, h, w), "voxel (%d,%d,%d)", d, h, w)
				} else {
					assert.Zero(t, out.At(d, h, w), "pad voxel (%d,%d,%d)", d, h, w)
				}
			}
		}
	}
	assert.Equal(t, orig, v, "input must not be mutated")
}

func TestConform_CropsLowBlock(t *testing.T) {
	v := ramp(2, 8, 8)

	out := Conform(v, 4, 4)

	require.Equal(t, Shape{Depth: 2, Height: 4, Width: 4}, out.Shape)
	for d := 0; d < 2; d++ {
		for h := 0; h < 4; h++ {
			for w := 0; w < 4; w++ {
				assert.Equal(t, v.At(d, h, w), out.At(d, h, w))
			}
		}
	}
}

func TestConform_MixedAxes(t *testing.T) {
	v := ramp(3, 2, 6)

	out := Conform(v, 4, 3)

	require.Equal(t, Shape{Depth: 3, Height: 4, Width: 3}, out.Shape)
	assert.Equal(t, v.At(2, 1, 2), out.At(2, 1, 2))
	assert.Zero(t, out.At(2, 2, 0))
	assert.Zero(t, out.At(0, 3, 2))
}

func TestConform_SameShapeCopies(t *testing.T) {
	v := ramp(2, 4, 4)

	out := Conform(v, 4, 4)

	assert.Equal(t, v.Data, out.Data)
	out.Data[0] = -1
	assert.Equal(t, 1.0, v.Data[0], "conformed volume must not alias the input")
	assert.True(t, Conformant(v, 4, 4))
	assert.False(t, Conformant(v, 4, 5))
}

func TestConform_PreservesDepth(t *testing.T) {
	for _, depth := range []int{1, 7, 32} {
		out := Conform(New(depth, 10, 3), 6, 6)
		assert.Equal(t, depth, out.Depth)
	}
}

func TestSliceViews(t *testing.T) {
	v := ramp(3, 2, 2)
	assert.Equal(t, []float64{5, 6, 7, 8}, v.Slice(1))

	m := NewMask(v.Shape)
	copy(m.Slice(2), []Label{1, 2, 0, 1})
	assert.Equal(t, Label(2), m.At(2, 0, 1))
	assert.Equal(t, Label(0), m.At(1, 0, 1))
}
