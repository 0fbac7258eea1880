package spot

import (
	"errors"
	"image/color"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadRows(t *testing.T, rows []Row, opts LoadOptions) (*Registry, LoadStats) {
	t.Helper()
	r := NewRegistry(quietLogger())
	stats := r.Load(rows, opts)
	return r, stats
}

func TestLoadSkipsMalformedRows(t *testing.T) {
	r, stats := loadRows(t, []Row{
		{ID: "a", X: "1", Y: "2", Radius: "3"},
		{ID: "b", X: "x", Y: "2", Radius: "3"},
		{ID: "c", X: "1", Y: "", Radius: "3"},
		{ID: "d", X: "4", Y: "5", Radius: "wide"},
		{ID: "e", X: "6", Y: "7", Radius: ""},
		{ID: "f", X: "8", Y: "9", Radius: "-1"},
		{ID: "a", X: "0", Y: "0", Radius: "1"},
	}, LoadOptions{})

	want := LoadStats{Rows: 7, Loaded: 3, Malformed: 3, Duplicate: 1}
	if stats != want {
		t.Fatalf("expected stats %+v, got %+v", want, stats)
	}

	var ids []string
	for _, s := range r.Spots() {
		ids = append(ids, s.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "e", "f"}) {
		t.Fatalf("expected file order [a e f], got %v", ids)
	}

	e, _ := r.FindByID("e")
	f, _ := r.FindByID("f")
	if e.Radius != DefaultRadius || f.Radius != DefaultRadius {
		t.Fatalf("expected default radius, got %v and %v", e.Radius, f.Radius)
	}
	if e.Index != 1 {
		t.Fatalf("expected index 1 for e, got %d", e.Index)
	}
	if !reflect.DeepEqual(e.Color, colormap.Solid(colormap.Base)) {
		t.Fatalf("expected base color, got %v", e.Color)
	}
}

func TestLoadLimit(t *testing.T) {
	rows := []Row{
		{ID: "a", X: "1", Y: "1", Radius: "1"},
		{ID: "b", X: "2", Y: "2", Radius: "1"},
		{ID: "c", X: "3", Y: "3", Radius: "1"},
	}

	r, stats := loadRows(t, rows, LoadOptions{Limit: 2})
	if r.Len() != 2 || stats.Capped != 1 {
		t.Fatalf("expected 2 spots and 1 capped, got %d and %d", r.Len(), stats.Capped)
	}
	if _, ok := r.FindByID("c"); ok {
		t.Fatalf("expected capped spot to be unreachable by id")
	}

	r, stats = loadRows(t, rows, LoadOptions{Limit: 10})
	if r.Len() != 3 || stats.Capped != 0 {
		t.Fatalf("expected limit above available to load all 3, got %d", r.Len())
	}
}

func TestLoadScale(t *testing.T) {
	r, _ := loadRows(t, []Row{{ID: "a", X: "100", Y: "200", Radius: "10"}}, LoadOptions{Scale: 0.5})
	s, _ := r.FindByID("a")
	if s.X != 50 || s.Y != 100 || s.Radius != 5 {
		t.Fatalf("unexpected scaled spot %+v", s)
	}
}

func TestSetClipBounds(t *testing.T) {
	r, _ := loadRows(t, []Row{
		{ID: "in", X: "5", Y: "5", Radius: "1"},
		{ID: "out", X: "15", Y: "5", Radius: "1"},
		{ID: "edge", X: "10", Y: "0", Radius: "1"},
	}, LoadOptions{})

	n := r.SetClipBounds(Clip{Left: 0, Right: 10, Top: 10, Bottom: 0})
	if n != 2 {
		t.Fatalf("expected 2 visible, got %d", n)
	}
	var got []bool
	for _, s := range r.Spots() {
		got = append(got, s.Visible)
	}
	if !reflect.DeepEqual(got, []bool{true, false, true}) {
		t.Fatalf("expected [true false true], got %v", got)
	}
	if r.Len() != 3 {
		t.Fatalf("clipping must not remove spots")
	}

	v := r.Visible()
	if v.Len() != 2 {
		t.Fatalf("expected visible view of 2, got %d", v.Len())
	}
	if s, err := v.FindByIndex(1); err != nil || s.ID != "edge" {
		t.Fatalf("expected visible index 1 to be edge, got %v (%v)", s.ID, err)
	}

	r.ClearClip()
	if r.Visible().Len() != 3 {
		t.Fatalf("expected all spots visible after ClearClip")
	}
	if _, ok := r.ClipBounds(); ok {
		t.Fatalf("expected no clip after ClearClip")
	}
}

func TestSetColor(t *testing.T) {
	r, _ := loadRows(t, []Row{
		{ID: "a", X: "1", Y: "1", Radius: "1"},
		{ID: "b", X: "2", Y: "2", Radius: "1"},
	}, LoadOptions{})
	red := colormap.Solid(color.RGBA{255, 0, 0, 255})

	if !r.SetColor("a", red) {
		t.Fatalf("expected SetColor on known id to succeed")
	}
	if r.SetColor("zzz", red) {
		t.Fatalf("expected SetColor on unknown id to report false")
	}
	a, _ := r.FindByID("a")
	if !reflect.DeepEqual(a.Color, red) {
		t.Fatalf("expected red, got %v", a.Color)
	}

	misses := r.SetColors([]string{"b", "ghost"}, []colormap.Composition{red, red})
	if misses != 1 {
		t.Fatalf("expected 1 miss, got %d", misses)
	}
	b, _ := r.FindByID("b")
	if !reflect.DeepEqual(b.Color, red) {
		t.Fatalf("expected bulk coloring to continue past misses")
	}

	r.ResetColors(colormap.Solid(colormap.Base))
	for _, s := range r.Spots() {
		if !reflect.DeepEqual(s.Color, colormap.Solid(colormap.Base)) {
			t.Fatalf("expected base after reset, got %v", s.Color)
		}
	}
}

func TestFindByIndex(t *testing.T) {
	r, _ := loadRows(t, []Row{{ID: "a", X: "1", Y: "1", Radius: "1"}}, LoadOptions{})
	if s, err := r.FindByIndex(0); err != nil || s.ID != "a" {
		t.Fatalf("expected spot a, got %v (%v)", s.ID, err)
	}
	for _, i := range []int{-1, 1} {
		if _, err := r.FindByIndex(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("FindByIndex(%d): expected ErrIndexOutOfRange, got %v", i, err)
		}
	}
}

func TestBounds(t *testing.T) {
	r := NewRegistry(quietLogger())
	if r.Bounds() != (Bounds{}) {
		t.Fatalf("expected zero bounds for empty registry")
	}
	r.Load([]Row{
		{ID: "a", X: "-2", Y: "4", Radius: "1"},
		{ID: "b", X: "6", Y: "-1", Radius: "1"},
	}, LoadOptions{})
	want := Bounds{MinX: -2, MaxX: 6, MinY: -1, MaxY: 4}
	if got := r.Bounds(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
