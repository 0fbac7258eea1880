package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/data/loader"
	"github.com/atlasmap-sc/spotview/internal/render"
	"github.com/atlasmap-sc/spotview/internal/selection"
	"github.com/atlasmap-sc/spotview/internal/spot"
	"github.com/atlasmap-sc/spotview/internal/viewstore"
)

// Three spots, genes A and B:
//
//	A: s1=0  s2=5 s3=10
//	B: s1=10 s2=0 s3=4
const (
	fixturePositions = `barcode,x,y,radius
s1,0,0,1
s2,10,0,1
s3,10,10,1
`
	fixtureExpression = `celltype,A,B
T1,1,0
T2,0,1
`
	fixtureMembership = `barcode,T1,T2
s1,0.5,0.5
s2,1,0
s3,0,0
`
	fixtureMatrix = `%%MatrixMarket matrix coordinate real general
2 3 4
1 2 5
1 3 10
2 1 10
2 3 4
`
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFixture(t *testing.T) loader.Paths {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		return p
	}
	return loader.Paths{
		Positions:  write("spots.csv", fixturePositions),
		Expression: write("expr.csv", fixtureExpression),
		Membership: write("membership.csv", fixtureMembership),
		Matrix:     write("matrix.mtx", fixtureMatrix),
	}
}

func newLoadedSession(t *testing.T, mutate func(*SessionConfig)) *Session {
	t.Helper()
	cfg := SessionConfig{DatasetID: "test", Paths: writeFixture(t), Logger: quietLogger()}
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewSession(cfg)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func ptr[T any](v T) *T { return &v }

// spotColors returns the hex slices of every spot keyed by id.
func spotColors(t *testing.T, s *Session) map[string][]string {
	t.Helper()
	spots, err := s.Spots(false)
	if err != nil {
		t.Fatalf("Spots: %v", err)
	}
	out := map[string][]string{}
	for _, sp := range spots {
		for _, sl := range sp.Slices {
			out[sp.ID] = append(out[sp.ID], sl.Color)
		}
	}
	return out
}

const (
	hexBase      = "#4b0082"
	hexRed       = "#ff0000"
	hexTurquoise = "#40e0d0"
)

func TestReadyGate(t *testing.T) {
	s := NewSession(SessionConfig{DatasetID: "test", Paths: writeFixture(t), Logger: quietLogger()})

	if st := s.Status(); st.State != "loading" {
		t.Fatalf("expected loading, got %q", st.State)
	}
	if _, err := s.SearchGenes(""); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if _, err := s.Hover(0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady from hover, got %v", err)
	}

	go s.Load(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	st := s.Status()
	if st.State != "ready" || st.Spots != 3 || st.Genes != 2 || st.Barcodes != 3 || st.Generation != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if !reflect.DeepEqual(st.CellTypes, []string{"T1", "T2"}) {
		t.Fatalf("expected cell types [T1 T2], got %v", st.CellTypes)
	}
}

func TestLoadFailure(t *testing.T) {
	paths := writeFixture(t)
	paths.Matrix = filepath.Join(t.TempDir(), "absent.mtx")
	s := NewSession(SessionConfig{Paths: paths, Logger: quietLogger()})

	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if _, err := s.SearchGenes("a"); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("expected ErrLoadFailed, got %v", err)
	}
	st := s.Status()
	if st.State != "failed" || st.Error == "" {
		t.Fatalf("expected failed status with error, got %+v", st)
	}
}

func TestSingleGeneColoring(t *testing.T) {
	s := newLoadedSession(t, nil)

	lg, err := s.SelectGene("A", "")
	if err != nil {
		t.Fatalf("SelectGene: %v", err)
	}
	if lg.MinLabel != "0.0" || lg.MaxLabel != "10.0" || lg.Gradient != "spot" {
		t.Fatalf("unexpected legend %+v", lg)
	}
	if len(lg.Stops) != 5 || lg.Stops[0].Color != hexBase || lg.Stops[4].Color != "#ffff00" {
		t.Fatalf("unexpected stops %+v", lg.Stops)
	}

	want := map[string][]string{
		"s1": {hexBase},
		"s2": {"#ff6666"},
		"s3": {"#ffff00"},
	}
	if got := spotColors(t, s); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if _, err := s.SelectGene("nope", ""); !errors.Is(err, selection.ErrUnknownGene) {
		t.Fatalf("expected ErrUnknownGene, got %v", err)
	}
	if _, err := s.SelectGene("A", "rainbow"); !errors.Is(err, ErrUnknownGradient) {
		t.Fatalf("expected ErrUnknownGradient, got %v", err)
	}
}

func TestRendererDefaultGradient(t *testing.T) {
	s := newLoadedSession(t, func(cfg *SessionConfig) {
		cfg.Renderer = render.NewSnapshotRenderer(render.Config{DefaultGradient: "viridis"})
	})
	if got := s.Status().Gradient; got != "viridis" {
		t.Fatalf("expected gradient viridis from renderer, got %q", got)
	}
	lg, err := s.SelectGene("A", "")
	if err != nil {
		t.Fatalf("SelectGene: %v", err)
	}
	if lg.Gradient != "viridis" {
		t.Fatalf("expected legend gradient viridis, got %q", lg.Gradient)
	}

	// An unknown renderer default falls back to spot.
	s = newLoadedSession(t, func(cfg *SessionConfig) {
		cfg.Renderer = render.NewSnapshotRenderer(render.Config{DefaultGradient: "rainbow"})
	})
	if got := s.Status().Gradient; got != "spot" {
		t.Fatalf("expected fallback gradient spot, got %q", got)
	}
}

func TestMultiGeneColoring(t *testing.T) {
	s := newLoadedSession(t, nil)

	if _, err := s.AddGene("A"); !errors.Is(err, ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode in single mode, got %v", err)
	}
	if _, err := s.SetMode(ModeMulti); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	entry, err := s.AddGene("A")
	if err != nil {
		t.Fatalf("AddGene: %v", err)
	}
	if entry.Color != hexRed || entry.ColorName != "Red" {
		t.Fatalf("expected first gene red, got %+v", entry)
	}
	if _, err := s.AddGene("B"); err != nil {
		t.Fatalf("AddGene: %v", err)
	}

	want := map[string][]string{
		"s1": {hexTurquoise},
		"s2": {hexRed},
		"s3": {hexRed, hexTurquoise},
	}
	if got := spotColors(t, s); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	info, _ := s.Spot("s3")
	if info.Slices[0].Portion != 0.5 || info.Slices[1].Portion != 0.5 {
		t.Fatalf("expected equal portions, got %+v", info.Slices)
	}

	if _, err := s.AddGene("A"); !errors.Is(err, selection.ErrAlreadySelected) {
		t.Fatalf("expected ErrAlreadySelected, got %v", err)
	}

	if err := s.RemoveGene("A"); err != nil {
		t.Fatalf("RemoveGene: %v", err)
	}
	want = map[string][]string{
		"s1": {hexTurquoise},
		"s2": {hexBase},
		"s3": {hexTurquoise},
	}
	if got := spotColors(t, s); !reflect.DeepEqual(got, want) {
		t.Fatalf("after remove expected %v, got %v", want, got)
	}

	if err := s.RemoveGene("B"); err != nil {
		t.Fatalf("RemoveGene: %v", err)
	}
	for id, colors := range spotColors(t, s) {
		if !reflect.DeepEqual(colors, []string{hexBase}) {
			t.Fatalf("expected %s reset to base, got %v", id, colors)
		}
	}
	if err := s.RemoveGene("B"); !errors.Is(err, selection.ErrNotSelected) {
		t.Fatalf("expected ErrNotSelected, got %v", err)
	}
}

func TestSelectGeneInMultiModeKeepsPies(t *testing.T) {
	s := newLoadedSession(t, nil)
	s.SetMode(ModeMulti)
	if _, err := s.AddGene("A"); err != nil {
		t.Fatalf("AddGene: %v", err)
	}

	lg, err := s.SelectGene("B", "")
	if err != nil {
		t.Fatalf("SelectGene: %v", err)
	}
	if !reflect.DeepEqual(lg.Genes, []string{"B"}) {
		t.Fatalf("expected legend for B, got %v", lg.Genes)
	}
	if got := spotColors(t, s)["s2"]; !reflect.DeepEqual(got, []string{hexRed}) {
		t.Fatalf("expected pies unchanged, got %v", got)
	}

	// Leaving multi mode clears the selection and recolors by the current gene.
	if _, err := s.SetMode(ModeSingle); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	sel, _ := s.Selection()
	if len(sel) != 0 {
		t.Fatalf("expected empty selection, got %v", sel)
	}
	if got := spotColors(t, s)["s1"]; !reflect.DeepEqual(got, []string{"#ffff00"}) {
		t.Fatalf("expected s1 colored by B, got %v", got)
	}
}

func TestCellTypeColoring(t *testing.T) {
	s := newLoadedSession(t, nil)

	lg, err := s.SetMode(ModeCellType)
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if len(lg.Entries) != 2 || lg.Entries[0].Label != "T1" || lg.Entries[0].ColorName != "Blue" {
		t.Fatalf("unexpected legend %+v", lg)
	}

	want := map[string][]string{
		"s1": {"#1f77b4", "#ff7f0e"},
		"s2": {"#1f77b4"},
		"s3": {hexBase},
	}
	if got := spotColors(t, s); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	info, _ := s.Spot("s1")
	if info.CellTypes["T1"] != 0.5 || info.CellTypes["T2"] != 0.5 {
		t.Fatalf("expected cell-type mix on spot, got %v", info.CellTypes)
	}
}

func TestExpression(t *testing.T) {
	mgr, err := cache.NewManager(cache.Config{SnapshotCacheSizeMB: 8, ExpressionCacheSize: 8})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()
	s := newLoadedSession(t, func(c *SessionConfig) { c.Cache = mgr })

	for i := 0; i < 2; i++ {
		res, err := s.Expression([]string{"A", "B", "zzz"})
		if err != nil {
			t.Fatalf("Expression: %v", err)
		}
		if !reflect.DeepEqual(res.Values, []float64{10, 5, 14}) {
			t.Fatalf("expected [10 5 14], got %v", res.Values)
		}
		if !reflect.DeepEqual(res.Missing, []string{"zzz"}) {
			t.Fatalf("expected zzz missing, got %v", res.Missing)
		}
		if res.Range.Min != 5 || res.Range.Max != 14 {
			t.Fatalf("expected range 5..14, got %+v", res.Range)
		}
	}

	// A reload bumps the generation and drops cached vectors.
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if st := s.Status(); st.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", st.Generation)
	}
	if _, ok := mgr.GetExpression(cache.ExpressionKey("test", 1, []string{"A", "B", "zzz"})); ok {
		t.Fatal("expected stale expression to be purged")
	}
}

func TestCrosshairFlow(t *testing.T) {
	s := newLoadedSession(t, nil)

	ch, err := s.Hover(1)
	if err != nil {
		t.Fatalf("Hover: %v", err)
	}
	if !ch.Visible || ch.Vertical.From.X != 10 || ch.Horizontal.From.Y != 0 || ch.Horizontal.From.X != 0 || ch.Horizontal.To.X != 10 {
		t.Fatalf("unexpected crosshair %+v", ch)
	}

	ch, err = s.Pin(0)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if ch.State != "locked" || ch.Pin == nil || ch.Pin.ID != "s1" {
		t.Fatalf("expected s1 pinned, got %+v", ch)
	}

	ch, _ = s.Hover(2)
	if ch.Pin.ID != "s1" || ch.Vertical.From.X != 0 {
		t.Fatalf("hover must not move a pinned crosshair, got %+v", ch)
	}
	ch, _ = s.Unhover()
	if !ch.Visible {
		t.Fatal("unhover must not hide a pinned crosshair")
	}

	if _, err := s.Pin(7); !errors.Is(err, spot.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}

	ch, _ = s.Unpin()
	if ch.Visible || ch.Pin != nil || ch.State != "unlocked" {
		t.Fatalf("expected hidden unlocked crosshair, got %+v", ch)
	}
	ch, _ = s.Hover(2)
	if ch.Vertical.From.X != 10 || ch.Horizontal.From.Y != 10 {
		t.Fatalf("expected crosshair at s3, got %+v", ch)
	}
}

func TestClipRebuildsIndexPlot(t *testing.T) {
	s := newLoadedSession(t, nil)
	if _, err := s.Pin(0); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	n, err := s.SetClip(spot.Clip{Left: 5, Right: 10, Top: 10, Bottom: 0})
	if err != nil {
		t.Fatalf("SetClip: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 visible, got %d", n)
	}

	plot, _ := s.IndexPlot()
	ids := []string{}
	for _, p := range plot {
		ids = append(ids, p.ID)
	}
	if !reflect.DeepEqual(ids, []string{"s2", "s3"}) {
		t.Fatalf("expected index plot [s2 s3], got %v", ids)
	}

	ch, _ := s.Crosshair()
	if ch.Pin != nil {
		t.Fatalf("expected clip to release the pin, got %+v", ch.Pin)
	}
	ch, _ = s.Pin(0)
	if ch.Pin.ID != "s2" || ch.Pin.SpotIndex != 1 {
		t.Fatalf("expected plot index 0 to be s2, got %+v", ch.Pin)
	}

	if _, err := s.SetClip(spot.Clip{Left: 5, Right: 1}); err == nil {
		t.Fatal("expected inverted clip to be rejected")
	}
	if n, _ := s.ClearClip(); n != 3 {
		t.Fatalf("expected 3 visible after clear, got %d", n)
	}
}

func TestSpotLookups(t *testing.T) {
	s := newLoadedSession(t, nil)

	if _, err := s.Spot("nope"); !errors.Is(err, ErrSpotNotFound) {
		t.Fatalf("expected ErrSpotNotFound, got %v", err)
	}
	info, err := s.SpotAt(2)
	if err != nil || info.ID != "s3" {
		t.Fatalf("expected s3 at index 2, got %+v (%v)", info, err)
	}
	if _, err := s.SpotAt(3); !errors.Is(err, spot.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	genes, _ := s.SearchGenes("a")
	if !reflect.DeepEqual(genes, []string{"A"}) {
		t.Fatalf("expected [A], got %v", genes)
	}
}

func TestSnapshot(t *testing.T) {
	mgr, err := cache.NewManager(cache.Config{SnapshotCacheSizeMB: 8, ExpressionCacheSize: 8})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()
	s := newLoadedSession(t, func(c *SessionConfig) { c.Cache = mgr })
	s.SelectGene("A", "")
	s.Pin(1)

	params := SnapshotParams{Width: 120, Height: 80, Crosshair: true, Legend: true}
	first, err := s.Snapshot(params)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !bytes.HasPrefix(first, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("expected PNG output")
	}
	second, _ := s.Snapshot(params)
	if !bytes.Equal(first, second) {
		t.Fatal("expected cached snapshot to be reused")
	}

	if _, err := s.Snapshot(SnapshotParams{Opacity: ptr(1.5)}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for opacity 1.5, got %v", err)
	}

	// Zero opacity is a real setting, not the configured default.
	params.Opacity = ptr(0.0)
	hidden, err := s.Snapshot(params)
	if err != nil {
		t.Fatalf("Snapshot at opacity 0: %v", err)
	}
	if bytes.Equal(first, hidden) {
		t.Fatal("expected opacity 0 to render differently from the default")
	}
}

func TestSavedViews(t *testing.T) {
	store, err := viewstore.NewStore(filepath.Join(t.TempDir(), "views.sqlite"), quietLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	s := newLoadedSession(t, func(c *SessionConfig) { c.Views = store })

	s.SelectGene("B", "viridis")
	s.SetMode(ModeMulti)
	s.AddGene("A")
	s.AddGene("B")
	s.SetClip(spot.Clip{Left: 5, Right: 10, Top: 10, Bottom: 0})
	s.Pin(1)

	v, err := s.SaveView("right half")
	if err != nil {
		t.Fatalf("SaveView: %v", err)
	}
	want := viewstore.State{
		Mode:     "multi",
		Gene:     "B",
		Genes:    []string{"A", "B"},
		Gradient: "viridis",
		Clip:     &spot.Clip{Left: 5, Right: 10, Top: 10, Bottom: 0},
		PinnedID: "s3",
	}
	if !reflect.DeepEqual(v.State, want) {
		t.Fatalf("expected state %+v, got %+v", want, v.State)
	}

	s.SetMode(ModeSingle)
	s.ClearClip()

	st, err := s.ApplyView(v.ID)
	if err != nil {
		t.Fatalf("ApplyView: %v", err)
	}
	if st.Mode != "multi" || !reflect.DeepEqual(st.Selected, []string{"A", "B"}) || st.Visible != 2 {
		t.Fatalf("unexpected status after apply %+v", st)
	}
	ch, _ := s.Crosshair()
	if ch.Pin == nil || ch.Pin.ID != "s3" {
		t.Fatalf("expected s3 pinned after apply, got %+v", ch.Pin)
	}
	if got := spotColors(t, s)["s3"]; !reflect.DeepEqual(got, []string{hexRed, hexTurquoise}) {
		t.Fatalf("expected pies restored, got %v", got)
	}

	views, _ := s.ListViews()
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	if err := s.DeleteView(v.ID); err != nil {
		t.Fatalf("DeleteView: %v", err)
	}
	if _, err := s.ApplyView(v.ID); !errors.Is(err, viewstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestViewsDisabled(t *testing.T) {
	s := newLoadedSession(t, nil)
	if _, err := s.SaveView("x"); !errors.Is(err, ErrNoViews) {
		t.Fatalf("expected ErrNoViews, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for _, name := range []string{"single", "multi", "celltype"} {
		if m, err := ParseMode(name); err != nil || string(m) != name {
			t.Errorf("ParseMode(%q) = %q, %v", name, m, err)
		}
	}
	if _, err := ParseMode("pie"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
