package service

import (
	"errors"
	"fmt"

	"github.com/atlasmap-sc/spotview/internal/selection"
	"github.com/atlasmap-sc/spotview/internal/spot"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// ErrSpotNotFound is returned for unknown spot ids.
var ErrSpotNotFound = errors.New("spot not found")

// SliceInfo is one wedge of a spot color in hex.
type SliceInfo struct {
	Color   string  `json:"color"`
	Portion float64 `json:"portion"`
}

// SpotInfo is a spot with its color state and, when known, its cell-type mix.
type SpotInfo struct {
	spot.Spot
	Slices    []SliceInfo        `json:"slices"`
	CellTypes map[string]float64 `json:"cell_types,omitempty"`
}

func (s *Session) spotInfoLocked(sp spot.Spot) SpotInfo {
	info := SpotInfo{Spot: sp, Slices: make([]SliceInfo, 0, len(sp.Color))}
	for _, sl := range sp.Color {
		info.Slices = append(info.Slices, SliceInfo{Color: colormap.Hex(sl.Color), Portion: sl.Portion})
	}
	if props, ok := s.proportions[sp.ID]; ok {
		info.CellTypes = make(map[string]float64, len(props))
		for i, p := range props {
			if i < len(s.cellTypes) {
				info.CellTypes[s.cellTypes[i]] = p
			}
		}
	}
	return info
}

// Spots lists spots in load order, optionally only the visible ones.
func (s *Session) Spots(visibleOnly bool) ([]SpotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}

	var spots []spot.Spot
	if visibleOnly {
		spots = s.registry.Visible().Spots()
	} else {
		spots = s.registry.Spots()
	}
	out := make([]SpotInfo, len(spots))
	for i, sp := range spots {
		out[i] = s.spotInfoLocked(sp)
	}
	return out, nil
}

// Spot returns the spot with barcode id.
func (s *Session) Spot(id string) (SpotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return SpotInfo{}, err
	}
	sp, ok := s.registry.FindByID(id)
	if !ok {
		return SpotInfo{}, fmt.Errorf("%w: %s", ErrSpotNotFound, id)
	}
	return s.spotInfoLocked(sp), nil
}

// SpotAt returns the spot at load index i.
func (s *Session) SpotAt(i int) (SpotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return SpotInfo{}, err
	}
	sp, err := s.registry.FindByIndex(i)
	if err != nil {
		return SpotInfo{}, err
	}
	return s.spotInfoLocked(sp), nil
}

// SetClip applies a clip rectangle and returns the number of visible spots.
// The index plot is rebuilt from the visible spots, so a pinned crosshair is
// released.
func (s *Session) SetClip(c spot.Clip) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return 0, err
	}
	if c.Left > c.Right || c.Bottom > c.Top {
		return 0, fmt.Errorf("%w: clip left %v > right %v or bottom %v > top %v", ErrInvalid, c.Left, c.Right, c.Bottom, c.Top)
	}
	n := s.registry.SetClipBounds(c)
	s.coord.Deselect()
	s.touch()
	s.logger.Debug("clip applied", "visible", n, "total", s.registry.Len())
	return n, nil
}

// ClearClip makes every spot visible again.
func (s *Session) ClearClip() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return 0, err
	}
	s.registry.ClearClip()
	s.coord.Deselect()
	s.touch()
	return s.registry.Len(), nil
}

// IndexPoint is one point of the spot index plot.
type IndexPoint struct {
	Index int     `json:"index"`
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// IndexPlot lists the visible spots; a point's Index is what crosshair
// events refer to.
func (s *Session) IndexPlot() ([]IndexPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	visible := s.registry.Visible().Spots()
	out := make([]IndexPoint, len(visible))
	for i, sp := range visible {
		out[i] = IndexPoint{Index: i, ID: sp.ID, X: sp.X, Y: sp.Y}
	}
	return out, nil
}

// Crosshair returns the crosshair state.
func (s *Session) Crosshair() (selection.Crosshair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return selection.Crosshair{}, err
	}
	return s.coord.Crosshair(), nil
}

// Hover moves the crosshair to index-plot point i unless a spot is pinned.
func (s *Session) Hover(i int) (selection.Crosshair, error) {
	return s.crosshairEvent(func() error {
		return s.coord.Hover(s.registry.Visible(), i)
	})
}

// Unhover hides the crosshair unless a spot is pinned.
func (s *Session) Unhover() (selection.Crosshair, error) {
	return s.crosshairEvent(func() error {
		s.coord.Unhover()
		return nil
	})
}

// Pin locks the crosshair on index-plot point i.
func (s *Session) Pin(i int) (selection.Crosshair, error) {
	return s.crosshairEvent(func() error {
		_, err := s.coord.Select(s.registry.Visible(), i)
		return err
	})
}

// Unpin releases the crosshair and hides it.
func (s *Session) Unpin() (selection.Crosshair, error) {
	return s.crosshairEvent(func() error {
		s.coord.Deselect()
		return nil
	})
}

func (s *Session) crosshairEvent(apply func() error) (selection.Crosshair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return selection.Crosshair{}, err
	}
	if err := apply(); err != nil {
		return selection.Crosshair{}, err
	}
	s.touch()
	return s.coord.Crosshair(), nil
}
