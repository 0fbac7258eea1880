package colormap

import (
	"fmt"
	"image/color"
	"math"
)

// DefaultThreshold is the normalized level a gene must exceed to claim a slice.
const DefaultThreshold = 0.3

// Weighting decides how active genes split a spot.
type Weighting string

const (
	// WeightEqual gives every active gene the same slice.
	WeightEqual Weighting = "equal"
	// WeightMagnitude sizes slices by normalized expression.
	WeightMagnitude Weighting = "magnitude"
)

// ParseWeighting validates a weighting name. Empty selects WeightEqual.
func ParseWeighting(s string) (Weighting, error) {
	switch Weighting(s) {
	case "", WeightEqual:
		return WeightEqual, nil
	case WeightMagnitude:
		return WeightMagnitude, nil
	default:
		return "", fmt.Errorf("unknown weighting %q (expected equal or magnitude)", s)
	}
}

// Range is the min/max of one expression vector.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Slice is one colored wedge of a spot.
type Slice struct {
	Color   color.RGBA
	Portion float64
}

// Composition is the full color state of a spot; portions sum to 1.
// A single slice is a solid color.
type Composition []Slice

// Solid returns a one-slice composition.
func Solid(c color.RGBA) Composition {
	return Composition{{Color: c, Portion: 1}}
}

// Colors returns slice colors in order.
func (c Composition) Colors() []color.RGBA {
	out := make([]color.RGBA, len(c))
	for i, s := range c {
		out[i] = s.Color
	}
	return out
}

// Portions returns slice portions in order.
func (c Composition) Portions() []float64 {
	out := make([]float64, len(c))
	for i, s := range c {
		out[i] = s.Portion
	}
	return out
}

// IsSolid reports whether the composition is a single color.
func (c Composition) IsSolid() bool {
	return len(c) == 1
}

// ComposeOptions configures multi-gene composition.
type ComposeOptions struct {
	Threshold float64
	Weighting Weighting
	Base      color.RGBA
}

// DefaultComposeOptions returns the reference behavior: threshold 0.3, equal slices.
func DefaultComposeOptions() ComposeOptions {
	return ComposeOptions{
		Threshold: DefaultThreshold,
		Weighting: WeightEqual,
		Base:      Base,
	}
}

// Compose turns per-gene values at one spot into colored slices.
// values, ranges and colors are aligned by selection order; a gene is active
// when its normalized value exceeds opts.Threshold. Slice order follows the
// input order. With no active gene the result is a solid opts.Base.
func Compose(values []float64, ranges []Range, colors []color.RGBA, opts ComposeOptions) Composition {
	n := len(values)
	if len(ranges) < n {
		n = len(ranges)
	}
	if len(colors) < n {
		n = len(colors)
	}

	out := make(Composition, 0, n)
	weights := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		ratio := Ratio(values[i], ranges[i].Min, ranges[i].Max)
		if ratio > opts.Threshold {
			out = append(out, Slice{Color: colors[i]})
			weights = append(weights, ratio)
		}
	}
	if len(out) == 0 {
		return Solid(opts.Base)
	}

	total := 0.0
	if opts.Weighting == WeightMagnitude {
		for _, w := range weights {
			total += w
		}
	}
	if total <= 0 {
		for i := range out {
			out[i].Portion = 1 / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i].Portion = weights[i] / total
	}
	return out
}

// Proportions turns per-category proportions at one spot into slices colored
// by category index. Non-positive and NaN proportions are dropped and the rest
// renormalized; nothing left yields a solid base.
func Proportions(props []float64, palette Palette, base color.RGBA) Composition {
	total := 0.0
	for _, p := range props {
		if p > 0 && !math.IsInf(p, 0) {
			total += p
		}
	}
	if total <= 0 {
		return Solid(base)
	}

	out := make(Composition, 0, len(props))
	for i, p := range props {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		out = append(out, Slice{Color: palette.RGBA(i), Portion: p / total})
	}
	return out
}
