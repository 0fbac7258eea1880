package colormap

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// ErrDuplicateColor is returned for palettes that repeat a color.
var ErrDuplicateColor = errors.New("palette repeats a color")

// Swatch is a named palette color.
type Swatch struct {
	Name  string
	Color color.RGBA
}

// Palette is an indexed list of distinct colors.
type Palette []Swatch

// RGBA returns the color at index i, wrapping around.
func (p Palette) RGBA(i int) color.RGBA {
	if i < 0 {
		i = -i
	}
	return p[i%len(p)].Color
}

// Colors returns the palette colors in order.
func (p Palette) Colors() []color.RGBA {
	out := make([]color.RGBA, len(p))
	for i, s := range p {
		out[i] = s.Color
	}
	return out
}

// NameOf returns the swatch name for c, or its hex form when c is not in the palette.
func (p Palette) NameOf(c color.RGBA) string {
	for _, s := range p {
		if s.Color == c {
			return s.Name
		}
	}
	return Hex(c)
}

// GenePalette holds the colors assigned to simultaneously selected genes.
var GenePalette = Palette{
	{Name: "Red", Color: color.RGBA{255, 0, 0, 255}},
	{Name: "Turquoise", Color: color.RGBA{64, 224, 208, 255}},
	{Name: "Green", Color: color.RGBA{0, 100, 0, 255}},
	{Name: "Yellow", Color: color.RGBA{255, 255, 0, 255}},
	{Name: "White", Color: color.RGBA{255, 255, 255, 255}},
}

// Categorical palette with 20 distinct colors, used for cell types.
var Categorical = Palette{
	{Name: "Blue", Color: color.RGBA{31, 119, 180, 255}},
	{Name: "Orange", Color: color.RGBA{255, 127, 14, 255}},
	{Name: "Green", Color: color.RGBA{44, 160, 44, 255}},
	{Name: "Red", Color: color.RGBA{214, 39, 40, 255}},
	{Name: "Purple", Color: color.RGBA{148, 103, 189, 255}},
	{Name: "Brown", Color: color.RGBA{140, 86, 75, 255}},
	{Name: "Pink", Color: color.RGBA{227, 119, 194, 255}},
	{Name: "Gray", Color: color.RGBA{127, 127, 127, 255}},
	{Name: "Olive", Color: color.RGBA{188, 189, 34, 255}},
	{Name: "Cyan", Color: color.RGBA{23, 190, 207, 255}},
	{Name: "Light blue", Color: color.RGBA{174, 199, 232, 255}},
	{Name: "Light orange", Color: color.RGBA{255, 187, 120, 255}},
	{Name: "Light green", Color: color.RGBA{152, 223, 138, 255}},
	{Name: "Light red", Color: color.RGBA{255, 152, 150, 255}},
	{Name: "Light purple", Color: color.RGBA{197, 176, 213, 255}},
	{Name: "Light brown", Color: color.RGBA{196, 156, 148, 255}},
	{Name: "Light pink", Color: color.RGBA{247, 182, 210, 255}},
	{Name: "Light gray", Color: color.RGBA{199, 199, 199, 255}},
	{Name: "Light olive", Color: color.RGBA{219, 219, 141, 255}},
	{Name: "Light cyan", Color: color.RGBA{158, 218, 229, 255}},
}

// ParseHex parses "#rrggbb" (or "#rgb") into an opaque color.
func ParseHex(s string) (color.RGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// Hex formats c as "#rrggbb", ignoring alpha.
func Hex(c color.RGBA) string {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hex()
}

// Distinct reports whether the first n colors of p are pairwise different.
// n larger than the palette checks all of it.
func (p Palette) Distinct(n int) error {
	if n > len(p) {
		n = len(p)
	}
	seen := make(map[color.RGBA]int, n)
	for i, sw := range p[:n] {
		if j, dup := seen[sw.Color]; dup {
			return fmt.Errorf("%w: %s at %d and %d", ErrDuplicateColor, Hex(sw.Color), j, i)
		}
		seen[sw.Color] = i
	}
	return nil
}

// ParsePalette builds a palette from (name, hex) pairs. Every color must be
// distinct.
func ParsePalette(names, hexes []string) (Palette, error) {
	if len(names) != len(hexes) {
		return nil, fmt.Errorf("palette: %d names for %d colors", len(names), len(hexes))
	}
	if len(hexes) == 0 {
		return nil, fmt.Errorf("palette: no colors")
	}
	p := make(Palette, len(hexes))
	for i, h := range hexes {
		c, err := ParseHex(h)
		if err != nil {
			return nil, err
		}
		name := names[i]
		if name == "" {
			name = Hex(c)
		}
		p[i] = Swatch{Name: name, Color: c}
	}
	if err := p.Distinct(len(p)); err != nil {
		return nil, err
	}
	return p, nil
}
