package expression

import (
	"math"

	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// Resolve maps gene names to table rows. Names not in the table are returned
// in missing, in input order.
func Resolve(t *Table, genes []string) (rows []int, missing []string) {
	for _, g := range genes {
		if i, ok := t.GeneIndex(g); ok {
			rows = append(rows, i)
		} else {
			missing = append(missing, g)
		}
	}
	return rows, missing
}

// Compute sums the rows of the found genes at every spot. The result is
// aligned with t.Spots(); unknown names contribute nothing, so a selection
// with no known gene yields all zeros.
func Compute(t *Table, genes []string) []float64 {
	out := make([]float64, t.NumSpots())
	rows, _ := Resolve(t, genes)
	for _, r := range rows {
		for j, v := range t.matrix[r] {
			out[j] += v
		}
	}
	return out
}

// Range returns the min and max of values, ignoring NaN. Empty input gives (0, 0).
func Range(values []float64) colormap.Range {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo > hi {
		return colormap.Range{}
	}
	return colormap.Range{Min: lo, Max: hi}
}
