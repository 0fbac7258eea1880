// Package colormap provides color schemes for visualization.
package colormap

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"
)

// ErrInvalidStops is returned when a stop table is not a valid gradient.
var ErrInvalidStops = errors.New("invalid color stops")

// ColorStop pins a color to a position in a gradient.
type ColorStop struct {
	Pos   float64    `json:"pos"`
	Color color.RGBA `json:"-"`
}

// Gradient interpolates linearly between positioned color stops.
// Positions are strictly increasing, the first is 0 and the last is 1.
type Gradient struct {
	name  string
	stops []ColorStop
}

// NewGradient validates stops and builds a gradient.
func NewGradient(name string, stops []ColorStop) (Gradient, error) {
	if len(stops) < 2 {
		return Gradient{}, fmt.Errorf("%w: need at least 2 stops, got %d", ErrInvalidStops, len(stops))
	}
	if stops[0].Pos != 0 {
		return Gradient{}, fmt.Errorf("%w: first stop at %g, want 0", ErrInvalidStops, stops[0].Pos)
	}
	if last := stops[len(stops)-1].Pos; last != 1 {
		return Gradient{}, fmt.Errorf("%w: last stop at %g, want 1", ErrInvalidStops, last)
	}
	for i := 1; i < len(stops); i++ {
		if stops[i].Pos <= stops[i-1].Pos {
			return Gradient{}, fmt.Errorf("%w: stop %d at %g does not follow %g", ErrInvalidStops, i, stops[i].Pos, stops[i-1].Pos)
		}
	}

	own := make([]ColorStop, len(stops))
	copy(own, stops)
	for i := range own {
		own[i].Color.A = 255
	}
	return Gradient{name: name, stops: own}, nil
}

func mustGradient(name string, stops []ColorStop) Gradient {
	g, err := NewGradient(name, stops)
	if err != nil {
		panic(err)
	}
	return g
}

// evenGradient spreads colors at equal spacing over [0, 1].
func evenGradient(name string, colors ...color.RGBA) Gradient {
	stops := make([]ColorStop, len(colors))
	last := float64(len(colors) - 1)
	for i, c := range colors {
		stops[i] = ColorStop{Pos: float64(i) / last, Color: c}
	}
	stops[len(stops)-1].Pos = 1
	return mustGradient(name, stops)
}

// Name returns the registry name of the gradient.
func (g Gradient) Name() string {
	return g.name
}

// Stops returns a copy of the stop table.
func (g Gradient) Stops() []ColorStop {
	out := make([]ColorStop, len(g.stops))
	copy(out, g.stops)
	return out
}

// RGBA returns the interpolated color at position t. t is clamped to [0, 1].
func (g Gradient) RGBA(t float64) color.RGBA {
	t = clamp01(t)
	for i := 0; i < len(g.stops)-1; i++ {
		left := g.stops[i]
		right := g.stops[i+1]
		if t >= left.Pos && t <= right.Pos {
			local := (t - left.Pos) / (right.Pos - left.Pos)
			return interpolate(left.Color, right.Color, local)
		}
	}
	return g.stops[len(g.stops)-1].Color
}

// ColorFor maps value within [min, max] onto the gradient.
func (g Gradient) ColorFor(value, min, max float64) color.RGBA {
	return g.RGBA(Ratio(value, min, max))
}

// Ratio normalizes value into [0, 1] relative to [min, max].
// A degenerate range (max == min) yields 0.
func Ratio(value, min, max float64) float64 {
	if max == min {
		return 0
	}
	return clamp01((value - min) / (max - min))
}

func clamp01(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: lerpChannel(c1.R, c2.R, t),
		G: lerpChannel(c1.G, c2.G, t),
		B: lerpChannel(c1.B, c2.B, t),
		A: 255,
	}
}

func lerpChannel(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}

// Base is the color of a spot carrying no expression signal.
var Base = color.RGBA{75, 0, 130, 255}

// Spot is the default expression gradient: purple, pink, light red, orange, yellow.
var Spot = mustGradient("spot", []ColorStop{
	{Pos: 0.0, Color: color.RGBA{75, 0, 130, 255}},
	{Pos: 0.3, Color: color.RGBA{204, 102, 255, 255}},
	{Pos: 0.5, Color: color.RGBA{255, 102, 102, 255}},
	{Pos: 0.7, Color: color.RGBA{255, 165, 0, 255}},
	{Pos: 1.0, Color: color.RGBA{255, 255, 0, 255}},
})

// Viridis colormap (matplotlib viridis)
var Viridis = evenGradient("viridis",
	color.RGBA{68, 1, 84, 255},
	color.RGBA{72, 35, 116, 255},
	color.RGBA{64, 67, 135, 255},
	color.RGBA{52, 94, 141, 255},
	color.RGBA{41, 120, 142, 255},
	color.RGBA{32, 144, 140, 255},
	color.RGBA{34, 167, 132, 255},
	color.RGBA{68, 190, 112, 255},
	color.RGBA{121, 209, 81, 255},
	color.RGBA{189, 222, 38, 255},
	color.RGBA{253, 231, 37, 255},
)

// Magma colormap
var Magma = evenGradient("magma",
	color.RGBA{0, 0, 4, 255},
	color.RGBA{28, 16, 68, 255},
	color.RGBA{79, 18, 123, 255},
	color.RGBA{129, 37, 129, 255},
	color.RGBA{181, 54, 122, 255},
	color.RGBA{229, 80, 100, 255},
	color.RGBA{251, 135, 97, 255},
	color.RGBA{254, 194, 135, 255},
	color.RGBA{252, 253, 191, 255},
)

// Seurat mimics the grey-to-red feature plot scale.
var Seurat = evenGradient("seurat",
	color.RGBA{211, 211, 211, 255},
	color.RGBA{255, 0, 0, 255},
)

var gradients = map[string]Gradient{
	Spot.name:    Spot,
	Viridis.name: Viridis,
	Magma.name:   Magma,
	Seurat.name:  Seurat,
}

// Lookup returns a registered gradient by name.
func Lookup(name string) (Gradient, bool) {
	g, ok := gradients[name]
	return g, ok
}

// Names lists registered gradient names in sorted order.
func Names() []string {
	names := make([]string, 0, len(gradients))
	for name := range gradients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
