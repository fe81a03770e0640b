// internal/volume/stats.go
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// LabelCounts returns the number of voxels assigned to each class in [0, numClasses).
// Labels outside that range are ignored.
func LabelCounts(m *Mask, numClasses int) []int {
	counts := make([]int, numClasses)
	for _, l := range m.Labels {
		if int(l) < numClasses {
			counts[l]++
		}
	}
	return counts
}

// ForegroundVoxels counts voxels with a non-zero label.
func ForegroundVoxels(m *Mask) int {
	n := 0
	for _, l := range m.Labels {
		if l != 0 {
			n++
		}
	}
	return n
}

// Fractions converts voxel counts to proportions of the total.
// An all-zero input yields all-zero fractions.
func Fractions(counts []int) []float64 {
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = float64(c)
	}
	total := floats.Sum(out)
	if total == 0 {
		return out
	}
	floats.Scale(1/total, out)
	return out
}

// overlap returns |A∩B|, |A| and |B| for the voxels carrying label in a and b.
func overlap(a, b *Mask, label Label) (inter, na, nb int, err error) {
	if a.Shape != b.Shape {
		return 0, 0, 0, fmt.Errorf("mask shapes differ: %s vs %s", a.Shape, b.Shape)
	}
	for i := range a.Labels {
		ia := a.Labels[i] == label
		ib := b.Labels[i] == label
		if ia {
			na++
		}
		if ib {
			nb++
		}
		if ia && ib {
			inter++
		}
	}
	return inter, na, nb, nil
}

// Dice returns the Sørensen–Dice coefficient of label between two masks.
// Two masks that both lack the label score 1.
func Dice(a, b *Mask, label Label) (float64, error) {
	inter, na, nb, err := overlap(a, b, label)
	if err != nil {
		return 0, err
	}
	if na+nb == 0 {
		return 1, nil
	}
	return 2 * float64(inter) / float64(na+nb), nil
}

// Jaccard returns the intersection-over-union of label between two masks.
// Two masks that both lack the label score 1.
func Jaccard(a, b *Mask, label Label) (float64, error) {
	inter, na, nb, err := overlap(a, b, label)
	if err != nil {
		return 0, err
	}
	union := na + nb - inter
	if union == 0 {
		return 1, nil
	}
	return float64(inter) / float64(union), nil
}
