package service

import (
	"fmt"
	"strconv"

	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/render"
)

// SnapshotParams tune one PNG snapshot. Zero sizes and a nil opacity use the
// renderer configuration.
type SnapshotParams struct {
	Width     int
	Height    int
	Opacity   *float64
	Crosshair bool
	Legend    bool
}

// Snapshot renders the current spot state to PNG. Results are cached per
// session version, so any mutation invalidates them.
func (s *Session) Snapshot(p SnapshotParams) ([]byte, error) {
	opacity := "default"
	if p.Opacity != nil {
		if *p.Opacity < 0 || *p.Opacity > 1 {
			return nil, fmt.Errorf("%w: opacity must be within [0, 1], got %v", ErrInvalid, *p.Opacity)
		}
		opacity = strconv.FormatFloat(*p.Opacity, 'g', -1, 64)
	}

	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	key := cache.SnapshotKey(s.cfg.DatasetID, s.generation, s.version, map[string]interface{}{
		"w":         p.Width,
		"h":         p.Height,
		"opacity":   opacity,
		"crosshair": p.Crosshair,
		"legend":    p.Legend,
	})
	if s.cfg.Cache != nil {
		if data, ok := s.cfg.Cache.GetSnapshot(key); ok {
			s.mu.Unlock()
			return data, nil
		}
	}

	scene := render.Scene{
		Spots:   s.registry.Spots(),
		Bounds:  s.registry.Bounds(),
		Opacity: p.Opacity,
		Width:   p.Width,
		Height:  p.Height,
	}
	if p.Crosshair {
		if ch := s.coord.Crosshair(); ch.Visible {
			scene.Crosshair = &ch
		}
	}
	if p.Legend {
		scene.Legend = s.legend.renderLegend()
	}
	s.mu.Unlock()

	// Spot copies are immutable once taken, so drawing runs unlocked.
	data, err := s.cfg.Renderer.Render(scene)
	if err != nil {
		return nil, fmt.Errorf("failed to render snapshot: %w", err)
	}
	if s.cfg.Cache != nil {
		if err := s.cfg.Cache.SetSnapshot(key, data); err != nil {
			s.logger.Warn("failed to cache snapshot", "error", err, "bytes", len(data))
		}
	}
	return data, nil
}
