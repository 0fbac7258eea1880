// Package spot holds the canonical list of tissue spots for one dataset:
// positions, visibility under the clip rectangle, and per-spot color state.
package spot

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// DefaultRadius is used when a row carries no usable radius.
const DefaultRadius = 0.5

// ErrIndexOutOfRange is returned by index lookups past either end.
var ErrIndexOutOfRange = errors.New("spot: index out of range")

// Spot is one barcoded tissue location. Z is always 0.
type Spot struct {
	ID      string               `json:"id"`
	Index   int                  `json:"index"`
	X       float64              `json:"x"`
	Y       float64              `json:"y"`
	Radius  float64              `json:"radius"`
	Visible bool                 `json:"visible"`
	Color   colormap.Composition `json:"-"`
}

// Row is one raw line of the positions table.
type Row struct {
	ID     string
	X      string
	Y      string
	Radius string
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Limit caps the number of spots; <= 0 loads every valid row.
	Limit int
	// Scale multiplies positions and radii; 0 means 1.
	Scale float64
	// Base is the initial color of every spot.
	Base colormap.Composition
}

// LoadStats summarizes a Load call.
type LoadStats struct {
	Rows      int `json:"rows"`
	Loaded    int `json:"loaded"`
	Malformed int `json:"malformed"`
	Duplicate int `json:"duplicate"`
	Capped    int `json:"capped"`
}

// Bounds is an axis-aligned rectangle in spot coordinates.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// Clip is an inclusive clip rectangle. Top is the larger y.
type Clip struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// Contains reports whether (x, y) lies inside c, edges included.
func (c Clip) Contains(x, y float64) bool {
	return x >= c.Left && x <= c.Right && y >= c.Bottom && y <= c.Top
}

// Registry owns the spots of one dataset. It is not safe for concurrent use;
// callers serialize access.
type Registry struct {
	spots  []Spot
	byID   map[string]int
	clip   *Clip
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{byID: map[string]int{}, logger: logger}
}

// Load replaces the registry contents with one spot per valid row, in row
// order. Rows whose x, y or radius do not parse are skipped; an empty radius
// falls back to DefaultRadius. Later rows reusing an id are skipped.
func (r *Registry) Load(rows []Row, opts LoadOptions) LoadStats {
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}
	base := opts.Base
	if len(base) == 0 {
		base = colormap.Solid(colormap.Base)
	}

	stats := LoadStats{Rows: len(rows)}
	spots := make([]Spot, 0, len(rows))
	byID := make(map[string]int, len(rows))
	for _, row := range rows {
		id := strings.TrimSpace(row.ID)
		x, errX := parseCoord(row.X)
		y, errY := parseCoord(row.Y)
		radius, errR := parseRadius(row.Radius)
		if id == "" || errX != nil || errY != nil || errR != nil {
			stats.Malformed++
			continue
		}
		if _, dup := byID[id]; dup {
			stats.Duplicate++
			continue
		}
		byID[id] = len(spots)
		spots = append(spots, Spot{
			ID:      id,
			Index:   len(spots),
			X:       x * scale,
			Y:       y * scale,
			Radius:  radius * math.Abs(scale),
			Visible: true,
			Color:   base,
		})
	}

	if opts.Limit > 0 {
		if opts.Limit > len(spots) {
			r.logger.Warn("requested more spots than available, capping",
				"requested", humanize.Comma(int64(opts.Limit)),
				"available", humanize.Comma(int64(len(spots))))
		} else if opts.Limit < len(spots) {
			for _, s := range spots[opts.Limit:] {
				delete(byID, s.ID)
			}
			stats.Capped = len(spots) - opts.Limit
			spots = spots[:opts.Limit]
		}
	}
	stats.Loaded = len(spots)

	if stats.Malformed > 0 || stats.Duplicate > 0 {
		r.logger.Warn("skipped spot rows",
			"malformed", stats.Malformed, "duplicate", stats.Duplicate)
	}

	r.spots = spots
	r.byID = byID
	r.clip = nil
	return stats
}

func parseCoord(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite coordinate %q", s)
	}
	return v, nil
}

func parseRadius(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRadius, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return DefaultRadius, nil
	}
	return v, nil
}

// Len returns the number of spots.
func (r *Registry) Len() int { return len(r.spots) }

// Spots returns a copy of every spot in load order.
func (r *Registry) Spots() []Spot {
	return append([]Spot(nil), r.spots...)
}

// FindByID looks a spot up by barcode.
func (r *Registry) FindByID(id string) (Spot, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Spot{}, false
	}
	return r.spots[i], true
}

// FindByIndex returns the spot at load position i.
func (r *Registry) FindByIndex(i int) (Spot, error) {
	if i < 0 || i >= len(r.spots) {
		return Spot{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(r.spots))
	}
	return r.spots[i], nil
}

// SetClipBounds marks each spot visible when its position lies inside the
// inclusive rectangle, and returns the visible count.
func (r *Registry) SetClipBounds(c Clip) int {
	visible := 0
	for i := range r.spots {
		s := &r.spots[i]
		s.Visible = c.Contains(s.X, s.Y)
		if s.Visible {
			visible++
		}
	}
	r.clip = &c
	return visible
}

// ClearClip makes every spot visible again.
func (r *Registry) ClearClip() {
	for i := range r.spots {
		r.spots[i].Visible = true
	}
	r.clip = nil
}

// ClipBounds returns the active clip rectangle, if any.
func (r *Registry) ClipBounds() (Clip, bool) {
	if r.clip == nil {
		return Clip{}, false
	}
	return *r.clip, true
}

// SetColor replaces the color state of one spot. Unknown ids are logged and
// reported with false.
func (r *Registry) SetColor(id string, c colormap.Composition) bool {
	i, ok := r.byID[id]
	if !ok {
		r.logger.Debug("set color on unknown spot", "id", id)
		return false
	}
	r.spots[i].Color = c
	return true
}

// SetColors applies colors[k] to ids[k] and returns how many ids were unknown.
// Misses are skipped; the rest are still applied.
func (r *Registry) SetColors(ids []string, colors []colormap.Composition) int {
	n := len(ids)
	if len(colors) < n {
		n = len(colors)
	}
	misses := 0
	for k := 0; k < n; k++ {
		if !r.SetColor(ids[k], colors[k]) {
			misses++
		}
	}
	if misses > 0 {
		r.logger.Warn("colored ids missing from registry",
			"missing", humanize.Comma(int64(misses)), "of", humanize.Comma(int64(n)))
	}
	return misses
}

// ResetColors gives every spot the same color state.
func (r *Registry) ResetColors(c colormap.Composition) {
	for i := range r.spots {
		r.spots[i].Color = c
	}
}

// Bounds returns the extent of all spot positions. An empty registry has
// zero bounds.
func (r *Registry) Bounds() Bounds {
	if len(r.spots) == 0 {
		return Bounds{}
	}
	b := Bounds{MinX: r.spots[0].X, MaxX: r.spots[0].X, MinY: r.spots[0].Y, MaxY: r.spots[0].Y}
	for _, s := range r.spots[1:] {
		b.MinX = math.Min(b.MinX, s.X)
		b.MaxX = math.Max(b.MaxX, s.X)
		b.MinY = math.Min(b.MinY, s.Y)
		b.MaxY = math.Max(b.MaxY, s.Y)
	}
	return b
}

// Visible returns the currently visible spots as an indexable view.
func (r *Registry) Visible() View {
	v := View{spots: make([]Spot, 0, len(r.spots))}
	for _, s := range r.spots {
		if s.Visible {
			v.spots = append(v.spots, s)
		}
	}
	return v
}

// View is a snapshot of a subset of spots, indexed from 0.
type View struct {
	spots []Spot
}

// Len returns the number of spots in the view.
func (v View) Len() int { return len(v.spots) }

// Spots returns the spots of the view.
func (v View) Spots() []Spot { return v.spots }

// FindByIndex returns the i-th spot of the view.
func (v View) FindByIndex(i int) (Spot, error) {
	if i < 0 || i >= len(v.spots) {
		return Spot{}, fmt.Errorf("%w: %d of %d visible", ErrIndexOutOfRange, i, len(v.spots))
	}
	return v.spots[i], nil
}
