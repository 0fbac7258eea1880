// Package selection holds interactive selection state: the multi-gene list
// with its color assignments, and the crosshair lock state machine.
package selection

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// MaxGenes is the number of genes that can be colored at once.
const MaxGenes = 5

var (
	ErrUnknownGene     = errors.New("gene not found")
	ErrAlreadySelected = errors.New("gene already selected")
	ErrCapacity        = fmt.Errorf("at most %d genes can be selected", MaxGenes)
	ErrNotSelected     = errors.New("gene not selected")
	ErrPaletteTooSmall = errors.New("palette has fewer colors than the selection limit")
)

// Entry is one selected gene with its assigned color.
type Entry struct {
	Gene  string
	Color color.RGBA
}

// GeneSelection is an ordered list of at most MaxGenes genes, each holding a
// distinct palette color until removed.
type GeneSelection struct {
	palette colormap.Palette
	known   func(string) bool
	entries []Entry
}

// NewGeneSelection creates an empty selection. known reports whether a gene
// exists in the current table; palette supplies the assignable colors.
func NewGeneSelection(palette colormap.Palette, known func(string) bool) (*GeneSelection, error) {
	if len(palette) < MaxGenes {
		return nil, fmt.Errorf("%w: %d < %d", ErrPaletteTooSmall, len(palette), MaxGenes)
	}
	if err := palette.Distinct(MaxGenes); err != nil {
		return nil, err
	}
	return &GeneSelection{palette: palette, known: known}, nil
}

// Add appends gene with the first palette color no entry holds. State is
// unchanged on error.
func (s *GeneSelection) Add(gene string) (Entry, error) {
	if s.known != nil && !s.known(gene) {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownGene, gene)
	}
	if s.indexOf(gene) >= 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrAlreadySelected, gene)
	}
	if len(s.entries) >= MaxGenes {
		return Entry{}, ErrCapacity
	}

	e := Entry{Gene: gene, Color: s.freeColor()}
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *GeneSelection) freeColor() color.RGBA {
	for _, sw := range s.palette[:MaxGenes] {
		taken := false
		for _, e := range s.entries {
			if e.Color == sw.Color {
				taken = true
				break
			}
		}
		if !taken {
			return sw.Color
		}
	}
	// Unreachable while len(entries) < MaxGenes.
	return s.palette[0].Color
}

// Remove drops gene and frees its color.
func (s *GeneSelection) Remove(gene string) error {
	i := s.indexOf(gene)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotSelected, gene)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return nil
}

// Clear removes every entry.
func (s *GeneSelection) Clear() {
	s.entries = nil
}

// Len returns the number of selected genes.
func (s *GeneSelection) Len() int { return len(s.entries) }

// Entries returns the selection in insertion order.
func (s *GeneSelection) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Genes returns the selected gene names in insertion order.
func (s *GeneSelection) Genes() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Gene
	}
	return out
}

// Colors returns the assigned colors in insertion order.
func (s *GeneSelection) Colors() []color.RGBA {
	out := make([]color.RGBA, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Color
	}
	return out
}

// ColorName names c using the selection palette.
func (s *GeneSelection) ColorName(c color.RGBA) string {
	return s.palette.NameOf(c)
}

func (s *GeneSelection) indexOf(gene string) int {
	for i, e := range s.entries {
		if e.Gene == gene {
			return i
		}
	}
	return -1
}
