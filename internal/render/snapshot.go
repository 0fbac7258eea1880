// Package render draws spot snapshots using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/atlasmap-sc/spotview/internal/selection"
	"github.com/atlasmap-sc/spotview/internal/spot"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width           int
	Height          int
	DefaultGradient string
	SpotOpacity     float64
}

// Scene is one frame of registry state.
type Scene struct {
	Spots     []spot.Spot
	Bounds    spot.Bounds
	Crosshair *selection.Crosshair
	Legend    *Legend

	// Opacity overrides Config.SpotOpacity when set; 0 hides the spots.
	Opacity *float64

	// Width and Height override the configured size when both are set.
	Width, Height int
}

// Legend is drawn in the bottom-right corner: a gradient bar when Gradient
// is set, otherwise one swatch per entry.
type Legend struct {
	Title    string
	Gradient *colormap.Gradient
	Min, Max float64
	Entries  []LegendEntry
}

// LegendEntry is one labelled swatch.
type LegendEntry struct {
	Label string
	Color color.RGBA
}

const margin = 24.0

// SnapshotRenderer renders registry state to PNG.
type SnapshotRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewSnapshotRenderer creates a new snapshot renderer.
func NewSnapshotRenderer(cfg Config) *SnapshotRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 1024
	}
	if cfg.SpotOpacity <= 0 || cfg.SpotOpacity > 1 {
		cfg.SpotOpacity = 1
	}
	return &SnapshotRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				dc := gg.NewContext(cfg.Width, cfg.Height)
				dc.SetFontFace(basicfont.Face7x13)
				return dc
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 256*1024))
			},
		},
	}
}

// Config returns the effective configuration.
func (r *SnapshotRenderer) Config() Config { return r.config }

// Gradient resolves a gradient name, falling back to the configured default
// and then to the canonical spot gradient.
func (r *SnapshotRenderer) Gradient(name string) colormap.Gradient {
	if g, ok := colormap.Lookup(name); ok {
		return g
	}
	if g, ok := colormap.Lookup(r.config.DefaultGradient); ok {
		return g
	}
	return colormap.Spot
}

// Render draws visible spots, the crosshair and the legend, and encodes PNG.
func (r *SnapshotRenderer) Render(scene Scene) ([]byte, error) {
	var dc *gg.Context
	if scene.Width > 0 && scene.Height > 0 &&
		(scene.Width != r.config.Width || scene.Height != r.config.Height) {
		if scene.Width > 8192 || scene.Height > 8192 {
			return nil, fmt.Errorf("snapshot size %dx%d too large", scene.Width, scene.Height)
		}
		dc = gg.NewContext(scene.Width, scene.Height)
		dc.SetFontFace(basicfont.Face7x13)
	} else {
		dc = r.contextPool.Get().(*gg.Context)
		defer r.contextPool.Put(dc)
	}

	// Clear canvas with white background
	dc.SetColor(color.White)
	dc.Clear()

	opacity := r.config.SpotOpacity
	if scene.Opacity != nil {
		if *scene.Opacity < 0 || *scene.Opacity > 1 {
			return nil, fmt.Errorf("opacity must be within [0, 1], got %v", *scene.Opacity)
		}
		opacity = *scene.Opacity
	}
	alpha := int(math.Round(opacity * 255))

	vp := newViewport(scene.Bounds, float64(dc.Width()), float64(dc.Height()))
	for _, s := range scene.Spots {
		if !s.Visible {
			continue
		}
		cx, cy := vp.point(s.X, s.Y)
		radius := math.Max(s.Radius*vp.scale, 0.5)
		drawSpot(dc, cx, cy, radius, s.Color, alpha)
	}

	if scene.Crosshair != nil && scene.Crosshair.Visible {
		drawCrosshair(dc, vp, *scene.Crosshair)
	}
	if scene.Legend != nil {
		drawLegend(dc, *scene.Legend)
	}

	return r.encodeContext(dc)
}

func drawSpot(dc *gg.Context, cx, cy, radius float64, comp colormap.Composition, alpha int) {
	if len(comp) == 0 {
		comp = colormap.Solid(colormap.Base)
	}
	if comp.IsSolid() {
		c := comp[0].Color
		dc.SetRGBA255(int(c.R), int(c.G), int(c.B), alpha)
		dc.DrawCircle(cx, cy, radius)
		dc.Fill()
		return
	}

	// Wedges run clockwise from 12 o'clock in selection order.
	angle := -math.Pi / 2
	for _, sl := range comp {
		if sl.Portion <= 0 {
			continue
		}
		end := angle + sl.Portion*2*math.Pi
		dc.SetRGBA255(int(sl.Color.R), int(sl.Color.G), int(sl.Color.B), alpha)
		dc.MoveTo(cx, cy)
		dc.DrawArc(cx, cy, radius, angle, end)
		dc.ClosePath()
		dc.Fill()
		angle = end
	}
}

func drawCrosshair(dc *gg.Context, vp viewport, ch selection.Crosshair) {
	dc.SetRGB255(255, 0, 0)
	dc.SetLineWidth(1)
	for _, l := range []selection.Line{ch.Horizontal, ch.Vertical} {
		x1, y1 := vp.point(l.From.X, l.From.Y)
		x2, y2 := vp.point(l.To.X, l.To.Y)
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}
}

func drawLegend(dc *gg.Context, lg Legend) {
	w, h := float64(dc.Width()), float64(dc.Height())
	const barW, barH, swatch = 120.0, 10.0, 10.0

	if lg.Gradient != nil {
		x0, y0 := w-margin-barW, h-margin-barH
		for i := 0; i < int(barW); i++ {
			c := lg.Gradient.RGBA(float64(i) / (barW - 1))
			dc.SetRGBA255(int(c.R), int(c.G), int(c.B), 255)
			dc.DrawRectangle(x0+float64(i), y0, 1, barH)
			dc.Fill()
		}
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(FormatValue(lg.Min), x0, y0-4, 0, 0)
		dc.DrawStringAnchored(FormatValue(lg.Max), x0+barW, y0-4, 1, 0)
		if lg.Title != "" {
			dc.DrawStringAnchored(lg.Title, x0+barW/2, y0-18, 0.5, 0)
		}
		return
	}

	y := h - margin - float64(len(lg.Entries))*(swatch+4)
	x := w - margin - barW
	for _, e := range lg.Entries {
		dc.SetRGBA255(int(e.Color.R), int(e.Color.G), int(e.Color.B), 255)
		dc.DrawRectangle(x, y, swatch, swatch)
		dc.Fill()
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(e.Label, x+swatch+4, y+swatch/2, 0, 0.35)
		y += swatch + 4
	}
}

// FormatValue formats legend numbers with one decimal.
func FormatValue(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// viewport maps spot coordinates into the image, preserving aspect ratio.
// Larger y is drawn higher.
type viewport struct {
	b      spot.Bounds
	scale  float64
	offX   float64
	offY   float64
	height float64
}

func newViewport(b spot.Bounds, w, h float64) viewport {
	spanX := b.MaxX - b.MinX
	spanY := b.MaxY - b.MinY
	if spanX <= 0 {
		spanX = 1
	}
	if spanY <= 0 {
		spanY = 1
	}
	scale := math.Min((w-2*margin)/spanX, (h-2*margin)/spanY)
	if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		scale = 1
	}
	return viewport{
		b:      b,
		scale:  scale,
		offX:   (w - spanX*scale) / 2,
		offY:   (h - spanY*scale) / 2,
		height: h,
	}
}

func (v viewport) point(x, y float64) (float64, float64) {
	px := v.offX + (x-v.b.MinX)*v.scale
	py := v.height - (v.offY + (y-v.b.MinY)*v.scale)
	return px, py
}

func (r *SnapshotRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
