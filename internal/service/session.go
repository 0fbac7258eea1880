// Package service holds the per-dataset viewer session: loading, coloring,
// clipping, crosshair and snapshot state behind one lock.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/data/loader"
	"github.com/atlasmap-sc/spotview/internal/expression"
	"github.com/atlasmap-sc/spotview/internal/render"
	"github.com/atlasmap-sc/spotview/internal/selection"
	"github.com/atlasmap-sc/spotview/internal/spot"
	"github.com/atlasmap-sc/spotview/internal/viewstore"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

var (
	// ErrNotReady is returned while a dataset is loading.
	ErrNotReady = errors.New("dataset is still loading")
	// ErrLoadFailed is returned after the last load failed.
	ErrLoadFailed = errors.New("dataset failed to load")
	// ErrWrongMode is returned for operations that need another coloring mode.
	ErrWrongMode = errors.New("operation not available in the current mode")
	// ErrNoViews is returned when no view store is configured.
	ErrNoViews = errors.New("saved views are not enabled")
	// ErrInvalid wraps rejected arguments.
	ErrInvalid = errors.New("invalid argument")
)

// Mode is the active coloring mode.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeMulti    Mode = "multi"
	ModeCellType Mode = "celltype"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSingle, ModeMulti, ModeCellType:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q (expected single, multi or celltype)", ErrInvalid, s)
	}
}

type loadState int

const (
	stateLoading loadState = iota
	stateReady
	stateFailed
)

func (s loadState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "loading"
	}
}

// SessionConfig contains session configuration.
type SessionConfig struct {
	DatasetID string
	Name      string
	Paths     loader.Paths
	MaxSpots  int
	Scale     float64

	Compose         colormap.ComposeOptions
	GenePalette     colormap.Palette
	CellTypePalette colormap.Palette
	Gradient        string

	Cache    *cache.Manager
	Renderer *render.SnapshotRenderer
	Views    *viewstore.Store
	Logger   *slog.Logger
}

// Session is the interactive state of one dataset. Every exported method
// takes the session lock, so operations never interleave and readers never
// see a half-applied update.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger

	loadMu sync.Mutex

	mu         sync.Mutex
	state      loadState
	loadErr    error
	done       chan struct{}
	owed       int
	generation uint64
	version    uint64
	loadedAt   time.Time

	table       *expression.Table
	registry    *spot.Registry
	cellTypes   []string
	proportions map[string][]float64
	report      loader.Report
	spotStats   spot.LoadStats

	mode     Mode
	gene     string
	gradient string
	genes    *selection.GeneSelection
	coord    *selection.Coordinator
	legend   Legend
}

// NewSession creates a session in the loading state. Call Load to fill it.
func NewSession(cfg SessionConfig) *Session {
	if cfg.DatasetID == "" {
		cfg.DatasetID = "default"
	}
	if cfg.Name == "" {
		cfg.Name = cfg.DatasetID
	}
	if cfg.Compose == (colormap.ComposeOptions{}) {
		cfg.Compose = colormap.DefaultComposeOptions()
	}
	if len(cfg.GenePalette) == 0 {
		cfg.GenePalette = colormap.GenePalette
	}
	if len(cfg.CellTypePalette) == 0 {
		cfg.CellTypePalette = colormap.Categorical
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.NewSnapshotRenderer(render.Config{DefaultGradient: cfg.Gradient})
	}
	if cfg.Gradient == "" {
		cfg.Gradient = cfg.Renderer.Gradient(cfg.Renderer.Config().DefaultGradient).Name()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		cfg:      cfg,
		logger:   logger.With("dataset", cfg.DatasetID),
		done:     make(chan struct{}),
		mode:     ModeSingle,
		gradient: cfg.Gradient,
	}
}

// ID returns the dataset id.
func (s *Session) ID() string { return s.cfg.DatasetID }

// Name returns the display name.
func (s *Session) Name() string { return s.cfg.Name }

// Ready is closed when the load in progress (or the last one) finishes.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// WaitReady blocks until the current load finishes, then reports its outcome.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

// readyLocked is the ready gate in front of every interactive operation.
func (s *Session) readyLocked() error {
	switch s.state {
	case stateReady:
		return nil
	case stateFailed:
		return fmt.Errorf("%w: %v", ErrLoadFailed, s.loadErr)
	default:
		return ErrNotReady
	}
}

// Load reads the dataset inputs and replaces all session state. While it runs,
// interactive operations return ErrNotReady. Concurrent loads are serialized.
func (s *Session) Load(ctx context.Context) error {
	s.requestLoad()
	return s.runLoad(ctx)
}

// requestLoad closes the ready gate for one more load. The gate reopens when
// every requested load has finished, so waiters see the newest data.
func (s *Session) requestLoad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owed++
	if s.state != stateLoading {
		s.done = make(chan struct{})
		s.state = stateLoading
	}
}

// runLoad performs one requested load.
func (s *Session) runLoad(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	err := s.load(ctx)
	s.finishLoad(err)
	return err
}

func (s *Session) load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	ds, err := loader.Load(ctx, s.cfg.Paths, s.logger)
	if err != nil {
		return err
	}

	registry := spot.NewRegistry(s.logger)
	stats := registry.Load(ds.Positions, spot.LoadOptions{
		Limit: s.cfg.MaxSpots,
		Scale: s.cfg.Scale,
		Base:  colormap.Solid(s.cfg.Compose.Base),
	})
	if stats.Loaded == 0 {
		return fmt.Errorf("no valid spots in %s", ds.Report.Positions.File)
	}

	genes, err := selection.NewGeneSelection(s.cfg.GenePalette, ds.Table.HasGene)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.version++
	if s.cfg.Cache != nil {
		s.cfg.Cache.PurgeDataset(s.cfg.DatasetID)
	}

	s.table = ds.Table
	s.registry = registry
	s.cellTypes = ds.CellTypes
	s.proportions = ds.Proportions
	s.report = ds.Report
	s.spotStats = stats
	s.genes = genes
	s.coord = selection.NewCoordinator(registry.Bounds())
	s.mode = ModeSingle
	s.gene = ""
	s.legend = Legend{Mode: string(ModeSingle)}
	s.loadedAt = time.Now()

	s.logger.Info("dataset loaded",
		"spots", humanize.Comma(int64(stats.Loaded)),
		"genes", humanize.Comma(int64(ds.Table.NumGenes())),
		"generation", s.generation,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// finishLoad records the outcome of one load and opens the ready gate once
// no further load is owed. The last load decides the final state.
func (s *Session) finishLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logger.Error("dataset load failed", "error", err)
	}
	s.loadErr = err
	if s.owed > 0 {
		s.owed--
	}
	if s.owed > 0 {
		return
	}
	if err != nil {
		s.state = stateFailed
	} else {
		s.state = stateReady
	}
	close(s.done)
}

// Status describes the session for the status endpoint.
type Status struct {
	Dataset    string         `json:"dataset"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Error      string         `json:"error,omitempty"`
	Generation uint64         `json:"generation"`
	LoadedAt   *time.Time     `json:"loaded_at,omitempty"`
	Spots      int            `json:"spots"`
	Visible    int            `json:"visible"`
	Genes      int            `json:"genes"`
	Barcodes   int            `json:"barcodes"`
	CellTypes  []string       `json:"cell_types,omitempty"`
	Mode       string         `json:"mode"`
	Gene       string         `json:"gene,omitempty"`
	Gradient   string         `json:"gradient"`
	Selected   []string       `json:"selected,omitempty"`
	Clip       *spot.Clip     `json:"clip,omitempty"`
	SpotStats  spot.LoadStats `json:"spot_stats"`
	Report     *loader.Report `json:"report,omitempty"`
}

// Status never fails; it reports the ready gate instead.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Dataset:    s.cfg.DatasetID,
		Name:       s.cfg.Name,
		State:      s.state.String(),
		Generation: s.generation,
		Mode:       string(s.mode),
		Gene:       s.gene,
		Gradient:   s.gradient,
	}
	if s.loadErr != nil {
		st.Error = s.loadErr.Error()
	}
	if s.state != stateReady {
		return st
	}

	loadedAt := s.loadedAt
	st.LoadedAt = &loadedAt
	st.Spots = s.registry.Len()
	st.Visible = s.registry.Visible().Len()
	st.Genes = s.table.NumGenes()
	st.Barcodes = s.table.NumSpots()
	st.CellTypes = append([]string(nil), s.cellTypes...)
	st.Selected = s.genes.Genes()
	if c, ok := s.registry.ClipBounds(); ok {
		st.Clip = &c
	}
	st.SpotStats = s.spotStats
	report := s.report
	st.Report = &report
	return st
}

// touch marks visible state as changed so cached snapshots are not reused.
func (s *Session) touch() { s.version++ }
