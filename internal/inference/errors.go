// internal/inference/errors.go
package inference

import (
	"errors"
	"fmt"
)

// ErrInvalidVolume is returned for volumes with non-positive extents or
// data that does not fill their shape.
var ErrInvalidVolume = errors.New("invalid volume")

// ModelLoadError reports a model that could not be loaded: a missing or
// unreadable parameter file, or a network whose declared shapes do not fit
// the agent's configuration.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ShapeMismatchError reports a tensor whose shape the network cannot accept
// or produce. A dimension of -1 in Expected matches any extent.
type ShapeMismatchError struct {
	Expected []int64
	Got      []int64
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: expected %v, got %v", e.Expected, e.Got)
}

// DegenerateSliceError is returned under PolicyError for a slice whose
// maximum intensity is zero.
type DegenerateSliceError struct {
	Index int
}

func (e *DegenerateSliceError) Error() string {
	return fmt.Sprintf("slice %d is degenerate: maximum intensity is 0", e.Index)
}

func shapeMatches(expected, got []int64) bool {
	if len(expected) != len(got) {
		return false
	}
	for i := range expected {
		if expected[i] >= 0 && expected[i] != got[i] {
			return false
		}
	}
	return true
}
