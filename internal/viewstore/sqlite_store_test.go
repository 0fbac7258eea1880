package viewstore

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/atlasmap-sc/spotview/internal/spot"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "db", "views.sqlite"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetView(t *testing.T) {
	s := newTestStore(t)

	v := &View{
		DatasetID: "brain",
		Name:      "cortex",
		State: State{
			Mode:     "multi",
			Genes:    []string{"Gfap", "Snap25"},
			Clip:     &spot.Clip{Left: 0, Right: 10, Top: 10, Bottom: 0},
			PinnedID: "AAAC-1",
		},
	}
	if err := s.CreateView(v); err != nil {
		t.Fatalf("CreateView: %v", err)
	}
	if v.ID == "" || v.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned, got %+v", v)
	}

	got, err := s.GetView(v.ID)
	if err != nil {
		t.Fatalf("GetView: %v", err)
	}
	if !reflect.DeepEqual(got.State, v.State) {
		t.Fatalf("expected state %+v, got %+v", v.State, got.State)
	}
	if got.Name != "cortex" || got.DatasetID != "brain" {
		t.Fatalf("unexpected view %+v", got)
	}
}

func TestGetViewNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetView("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteView("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
	if err := s.UpdateView("nope", "x", State{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestListUpdateDelete(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"a", "b"} {
		if err := s.CreateView(&View{DatasetID: "brain", Name: name, State: State{Mode: "single", Gene: "Gfap"}}); err != nil {
			t.Fatalf("CreateView: %v", err)
		}
	}
	if err := s.CreateView(&View{DatasetID: "heart", Name: "c", State: State{Mode: "single"}}); err != nil {
		t.Fatalf("CreateView: %v", err)
	}

	views, err := s.ListViews("brain")
	if err != nil {
		t.Fatalf("ListViews: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views for brain, got %d", len(views))
	}

	if err := s.UpdateView(views[0].ID, "renamed", State{Mode: "celltype"}); err != nil {
		t.Fatalf("UpdateView: %v", err)
	}
	got, _ := s.GetView(views[0].ID)
	if got.Name != "renamed" || got.State.Mode != "celltype" {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := s.DeleteView(views[1].ID); err != nil {
		t.Fatalf("DeleteView: %v", err)
	}
	views, _ = s.ListViews("brain")
	if len(views) != 1 {
		t.Fatalf("expected 1 view after delete, got %d", len(views))
	}

	empty, err := s.ListViews("liver")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v (%v)", empty, err)
	}
}
