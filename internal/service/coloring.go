package service

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/expression"
	"github.com/atlasmap-sc/spotview/internal/render"
	"github.com/atlasmap-sc/spotview/internal/selection"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

var (
	// ErrUnknownGradient is returned for gradient names that are not registered.
	ErrUnknownGradient = errors.New("unknown gradient")
	// ErrNoCellTypes is returned for cell-type coloring without membership data.
	ErrNoCellTypes = errors.New("dataset has no cell types")
)

// Legend is the color key of the current coloring.
type Legend struct {
	Mode     string        `json:"mode"`
	Genes    []string      `json:"genes,omitempty"`
	Gradient string        `json:"gradient,omitempty"`
	Min      float64       `json:"min"`
	Max      float64       `json:"max"`
	MinLabel string        `json:"min_label,omitempty"`
	MaxLabel string        `json:"max_label,omitempty"`
	Stops    []LegendStop  `json:"stops,omitempty"`
	Entries  []LegendEntry `json:"entries,omitempty"`
}

// LegendStop is a gradient stop in hex.
type LegendStop struct {
	Position float64 `json:"position"`
	Color    string  `json:"color"`
}

// LegendEntry is one swatch: a selected gene or a cell type.
type LegendEntry struct {
	Label     string          `json:"label"`
	Color     string          `json:"color"`
	ColorName string          `json:"color_name,omitempty"`
	Range     *colormap.Range `json:"range,omitempty"`

	rgba color.RGBA
}

func gradientLegend(mode Mode, genes []string, g colormap.Gradient, r colormap.Range) Legend {
	lg := Legend{
		Mode:     string(mode),
		Genes:    genes,
		Gradient: g.Name(),
		Min:      r.Min,
		Max:      r.Max,
		MinLabel: render.FormatValue(r.Min),
		MaxLabel: render.FormatValue(r.Max),
	}
	for _, st := range g.Stops() {
		lg.Stops = append(lg.Stops, LegendStop{Position: st.Pos, Color: colormap.Hex(st.Color)})
	}
	return lg
}

// renderLegend converts the legend for the snapshot renderer.
func (l Legend) renderLegend() *render.Legend {
	if l.Gradient != "" {
		g, ok := colormap.Lookup(l.Gradient)
		if !ok {
			return nil
		}
		return &render.Legend{Title: strings.Join(l.Genes, " + "), Gradient: &g, Min: l.Min, Max: l.Max}
	}
	if len(l.Entries) == 0 {
		return nil
	}
	out := &render.Legend{}
	for _, e := range l.Entries {
		out.Entries = append(out.Entries, render.LegendEntry{Label: e.Label, Color: e.rgba})
	}
	return out
}

// ExpressionResult is the summed expression of a gene set, aligned with Spots.
type ExpressionResult struct {
	Genes   []string       `json:"genes"`
	Missing []string       `json:"missing,omitempty"`
	Spots   []string       `json:"spots"`
	Values  []float64      `json:"values"`
	Range   colormap.Range `json:"range"`
}

// computeLocked returns the summed expression of genes. The result may be
// shared with the cache and must not be modified.
func (s *Session) computeLocked(genes []string) []float64 {
	if s.cfg.Cache == nil {
		return expression.Compute(s.table, genes)
	}
	key := cache.ExpressionKey(s.cfg.DatasetID, s.generation, genes)
	if v, ok := s.cfg.Cache.GetExpression(key); ok {
		return v
	}
	v := expression.Compute(s.table, genes)
	s.cfg.Cache.SetExpression(key, v)
	return v
}

// SearchGenes lists genes matching query, case-insensitively.
func (s *Session) SearchGenes(query string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.table.Search(query), nil
}

// Expression sums the rows of genes. Unknown names are skipped and reported.
func (s *Session) Expression(genes []string) (ExpressionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return ExpressionResult{}, err
	}

	_, missing := expression.Resolve(s.table, genes)
	if len(missing) > 0 {
		s.logger.Debug("skipping unknown genes", "genes", missing)
	}
	values := s.computeLocked(genes)
	return ExpressionResult{
		Genes:   genes,
		Missing: missing,
		Spots:   s.table.Spots(),
		Values:  append([]float64(nil), values...),
		Range:   expression.Range(values),
	}, nil
}

func (s *Session) lookupGradient(name string) (colormap.Gradient, error) {
	if name == "" {
		name = s.gradient
	}
	g, ok := colormap.Lookup(name)
	if !ok {
		return colormap.Gradient{}, fmt.Errorf("%w: %q (have %s)", ErrUnknownGradient, name, strings.Join(colormap.Names(), ", "))
	}
	return g, nil
}

// SelectGene makes gene the current single gene. In single mode spots are
// recolored through the gradient; in multi mode only the legend follows the
// gene, the pies stay. An empty gradient keeps the current one.
func (s *Session) SelectGene(gene, gradient string) (Legend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return Legend{}, err
	}
	if !s.table.HasGene(gene) {
		return Legend{}, fmt.Errorf("%w: %s", selection.ErrUnknownGene, gene)
	}
	g, err := s.lookupGradient(gradient)
	if err != nil {
		return Legend{}, err
	}

	s.gene = gene
	s.gradient = g.Name()
	s.touch()
	if s.mode == ModeCellType {
		// Pies and their key stay until the mode changes.
		return s.legend, nil
	}

	values := s.computeLocked([]string{gene})
	r := expression.Range(values)
	s.legend = gradientLegend(s.mode, []string{gene}, g, r)
	if s.mode == ModeSingle {
		s.colorByValuesLocked(values, r, g)
	}
	return s.legend, nil
}

// SetMode switches the coloring mode. Leaving multi mode clears the gene
// selection and recolors by the current gene; entering cell-type mode draws
// composition pies.
func (s *Session) SetMode(mode Mode) (Legend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return Legend{}, err
	}
	if err := s.setModeLocked(mode); err != nil {
		return Legend{}, err
	}
	return s.legend, nil
}

func (s *Session) setModeLocked(mode Mode) error {
	if mode == s.mode {
		return nil
	}
	if mode == ModeCellType && len(s.cellTypes) == 0 {
		return ErrNoCellTypes
	}

	prev := s.mode
	s.mode = mode
	if prev == ModeMulti {
		s.genes.Clear()
	}

	switch mode {
	case ModeSingle:
		s.recolorSingleLocked()
	case ModeMulti:
		if prev == ModeCellType {
			s.resetColorsLocked()
		}
		s.legend.Mode = string(ModeMulti)
	case ModeCellType:
		s.recolorCellTypesLocked()
	}
	s.touch()
	s.logger.Debug("mode changed", "from", prev, "to", mode)
	return nil
}

// AddGene appends gene to the multi-gene selection and recomposes every spot.
func (s *Session) AddGene(gene string) (SelectionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return SelectionEntry{}, err
	}
	if s.mode != ModeMulti {
		return SelectionEntry{}, fmt.Errorf("%w: add gene needs multi mode", ErrWrongMode)
	}

	entry, err := s.genes.Add(gene)
	if err != nil {
		return SelectionEntry{}, err
	}
	s.recolorMultiLocked()
	s.touch()
	return s.selectionEntry(entry), nil
}

// RemoveGene drops gene from the selection. Removing the last gene resets
// every spot to the base color.
func (s *Session) RemoveGene(gene string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	if s.mode != ModeMulti {
		return fmt.Errorf("%w: remove gene needs multi mode", ErrWrongMode)
	}

	if err := s.genes.Remove(gene); err != nil {
		return err
	}
	s.recolorMultiLocked()
	s.touch()
	return nil
}

// SelectionEntry is a selected gene with its assigned color.
type SelectionEntry struct {
	Gene      string `json:"gene"`
	Color     string `json:"color"`
	ColorName string `json:"color_name"`
}

// Selection lists the multi-gene selection in insertion order.
func (s *Session) Selection() ([]SelectionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.selectionLocked(), nil
}

func (s *Session) selectionLocked() []SelectionEntry {
	out := []SelectionEntry{}
	for _, e := range s.genes.Entries() {
		out = append(out, s.selectionEntry(e))
	}
	return out
}

func (s *Session) selectionEntry(e selection.Entry) SelectionEntry {
	return SelectionEntry{Gene: e.Gene, Color: colormap.Hex(e.Color), ColorName: s.genes.ColorName(e.Color)}
}

// Legend returns the color key of the current coloring.
func (s *Session) Legend() (Legend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return Legend{}, err
	}
	return s.legend, nil
}

func (s *Session) base() colormap.Composition {
	return colormap.Solid(s.cfg.Compose.Base)
}

func (s *Session) resetColorsLocked() {
	s.registry.ResetColors(s.base())
}

// recolorSingleLocked colors by the current gene, or resets to base when
// no gene has been chosen yet.
func (s *Session) recolorSingleLocked() {
	if s.gene == "" {
		s.resetColorsLocked()
		s.legend = Legend{Mode: string(ModeSingle)}
		return
	}
	g := s.cfg.Renderer.Gradient(s.gradient)
	values := s.computeLocked([]string{s.gene})
	r := expression.Range(values)
	s.legend = gradientLegend(ModeSingle, []string{s.gene}, g, r)
	s.colorByValuesLocked(values, r, g)
}

// colorByValuesLocked maps one value per table spot through g. Spots that
// have no expression column fall back to base.
func (s *Session) colorByValuesLocked(values []float64, r colormap.Range, g colormap.Gradient) {
	s.resetColorsLocked()
	comps := make([]colormap.Composition, len(values))
	for i, v := range values {
		comps[i] = colormap.Solid(g.ColorFor(v, r.Min, r.Max))
	}
	s.registry.SetColors(s.table.Spots(), comps)
}

func (s *Session) recolorMultiLocked() {
	entries := s.genes.Entries()
	if len(entries) == 0 {
		s.resetColorsLocked()
		s.legend = Legend{Mode: string(ModeMulti)}
		return
	}

	perGene := make([][]float64, len(entries))
	ranges := make([]colormap.Range, len(entries))
	colors := make([]color.RGBA, len(entries))
	lg := Legend{Mode: string(ModeMulti)}
	for k, e := range entries {
		perGene[k] = s.computeLocked([]string{e.Gene})
		ranges[k] = expression.Range(perGene[k])
		colors[k] = e.Color
		r := ranges[k]
		lg.Genes = append(lg.Genes, e.Gene)
		lg.Entries = append(lg.Entries, LegendEntry{
			Label:     e.Gene,
			Color:     colormap.Hex(e.Color),
			ColorName: s.genes.ColorName(e.Color),
			Range:     &r,
			rgba:      e.Color,
		})
	}

	n := s.table.NumSpots()
	comps := make([]colormap.Composition, n)
	vals := make([]float64, len(entries))
	for j := 0; j < n; j++ {
		for k := range entries {
			vals[k] = perGene[k][j]
		}
		comps[j] = colormap.Compose(vals, ranges, colors, s.cfg.Compose)
	}
	s.resetColorsLocked()
	s.registry.SetColors(s.table.Spots(), comps)
	s.legend = lg
}

func (s *Session) recolorCellTypesLocked() {
	lg := Legend{Mode: string(ModeCellType)}
	for i, ct := range s.cellTypes {
		c := s.cfg.CellTypePalette.RGBA(i)
		lg.Entries = append(lg.Entries, LegendEntry{
			Label:     ct,
			Color:     colormap.Hex(c),
			ColorName: s.cfg.CellTypePalette.NameOf(c),
			rgba:      c,
		})
	}

	ids := make([]string, 0, len(s.proportions))
	comps := make([]colormap.Composition, 0, len(s.proportions))
	for id, props := range s.proportions {
		ids = append(ids, id)
		comps = append(comps, colormap.Proportions(props, s.cfg.CellTypePalette, s.cfg.Compose.Base))
	}
	s.resetColorsLocked()
	s.registry.SetColors(ids, comps)
	s.legend = lg
}
