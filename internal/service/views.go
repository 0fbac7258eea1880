package service

import (
	"fmt"
	"strings"

	"github.com/atlasmap-sc/spotview/internal/viewstore"
)

func (s *Session) captureLocked() viewstore.State {
	st := viewstore.State{
		Mode:     string(s.mode),
		Gene:     s.gene,
		Gradient: s.gradient,
	}
	if s.mode == ModeMulti {
		st.Genes = s.genes.Genes()
	}
	if c, ok := s.registry.ClipBounds(); ok {
		st.Clip = &c
	}
	if pin, ok := s.coord.Pinned(); ok {
		st.PinnedID = pin.ID
	}
	return st
}

// SaveView stores the current mode, genes, clip and pinned spot under name.
func (s *Session) SaveView(name string) (*viewstore.View, error) {
	if s.cfg.Views == nil {
		return nil, ErrNoViews
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: view name is required", ErrInvalid)
	}

	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	v := &viewstore.View{DatasetID: s.cfg.DatasetID, Name: name, State: s.captureLocked()}
	s.mu.Unlock()

	if err := s.cfg.Views.CreateView(v); err != nil {
		return nil, err
	}
	return v, nil
}

// ListViews returns the saved views of this dataset, newest first.
func (s *Session) ListViews() ([]*viewstore.View, error) {
	if s.cfg.Views == nil {
		return nil, ErrNoViews
	}
	return s.cfg.Views.ListViews(s.cfg.DatasetID)
}

// GetView returns a saved view of this dataset.
func (s *Session) GetView(id string) (*viewstore.View, error) {
	if s.cfg.Views == nil {
		return nil, ErrNoViews
	}
	v, err := s.cfg.Views.GetView(id)
	if err != nil {
		return nil, err
	}
	if v.DatasetID != s.cfg.DatasetID {
		return nil, fmt.Errorf("%w: %s", viewstore.ErrNotFound, id)
	}
	return v, nil
}

// DeleteView removes a saved view of this dataset.
func (s *Session) DeleteView(id string) error {
	if _, err := s.GetView(id); err != nil {
		return err
	}
	return s.cfg.Views.DeleteView(id)
}

// ApplyView restores a saved view. Genes or a pinned spot that no longer
// exist are skipped with a warning.
func (s *Session) ApplyView(id string) (Status, error) {
	v, err := s.GetView(id)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	err = s.applyStateLocked(v.State)
	s.mu.Unlock()
	if err != nil {
		return Status{}, fmt.Errorf("apply view %s: %w", v.Name, err)
	}
	return s.Status(), nil
}

func (s *Session) applyStateLocked(st viewstore.State) error {
	if err := s.readyLocked(); err != nil {
		return err
	}
	mode := ModeSingle
	if st.Mode != "" {
		m, err := ParseMode(st.Mode)
		if err != nil {
			return err
		}
		mode = m
	}
	if mode == ModeCellType && len(s.cellTypes) == 0 {
		return ErrNoCellTypes
	}
	g, err := s.lookupGradient(st.Gradient)
	if err != nil {
		return err
	}
	if st.Clip != nil && (st.Clip.Left > st.Clip.Right || st.Clip.Bottom > st.Clip.Top) {
		return fmt.Errorf("%w: clip %+v", ErrInvalid, *st.Clip)
	}

	s.gradient = g.Name()
	s.gene = ""
	if st.Gene != "" {
		if s.table.HasGene(st.Gene) {
			s.gene = st.Gene
		} else {
			s.logger.Warn("saved gene no longer in dataset", "gene", st.Gene)
		}
	}

	if st.Clip != nil {
		s.registry.SetClipBounds(*st.Clip)
	} else {
		s.registry.ClearClip()
	}
	s.coord.Deselect()

	s.mode = mode
	s.genes.Clear()
	switch mode {
	case ModeSingle:
		s.recolorSingleLocked()
	case ModeMulti:
		for _, gene := range st.Genes {
			if _, err := s.genes.Add(gene); err != nil {
				s.logger.Warn("skipping saved gene", "gene", gene, "error", err)
			}
		}
		s.recolorMultiLocked()
	case ModeCellType:
		s.recolorCellTypesLocked()
	}

	if st.PinnedID != "" {
		visible := s.registry.Visible()
		pinned := false
		for i, sp := range visible.Spots() {
			if sp.ID == st.PinnedID {
				_, err := s.coord.Select(visible, i)
				pinned = err == nil
				break
			}
		}
		if !pinned {
			s.logger.Warn("saved pin is not a visible spot", "id", st.PinnedID)
		}
	}
	s.touch()
	return nil
}
