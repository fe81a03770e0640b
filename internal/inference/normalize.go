// internal/inference/normalize.go
package inference

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// DegeneratePolicy decides what happens to a slice whose maximum intensity is 0.
type DegeneratePolicy string

const (
	// PolicyZero feeds the slice to the network unscaled.
	PolicyZero DegeneratePolicy = "zero"
	// PolicyPropagate divides by zero anyway, so the network sees NaN/Inf.
	PolicyPropagate DegeneratePolicy = "propagate"
	// PolicyError fails the call with a *DegenerateSliceError.
	PolicyError DegeneratePolicy = "error"
)

// ParseDegeneratePolicy accepts "zero", "propagate" or "error".
// An empty string selects PolicyZero.
func ParseDegeneratePolicy(s string) (DegeneratePolicy, error) {
	switch p := DegeneratePolicy(s); p {
	case "":
		return PolicyZero, nil
	case PolicyZero, PolicyPropagate, PolicyError:
		return p, nil
	default:
		return "", fmt.Errorf("unknown degenerate slice policy %q", s)
	}
}

// normalizeSlice writes src scaled by its maximum into dst as float32.
// It reports whether the slice was degenerate.
// NaN intensities are skipped when locating the maximum. Scaling happens in
// float64 so maxima outside the float32 range still normalize to 1.
func normalizeSlice(src []float64, dst []float32, policy DegeneratePolicy) (bool, error) {
	peak := floats.Max(src)

	if peak == 0 {
		switch policy {
		case PolicyPropagate:
		case PolicyError:
			return true, errDegenerate
		default:
			for i, x := range src {
				dst[i] = float32(x)
			}
			return true, nil
		}
	}

	for i, x := range src {
		dst[i] = float32(x / peak)
	}
	return peak == 0, nil
}

// errDegenerate is replaced by a *DegenerateSliceError carrying the slice index.
var errDegenerate = errors.New("degenerate slice")
