// Package expression holds the gene x spot expression table and the
// computation that turns a gene selection into per-spot scalars.
package expression

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrOutOfRange is returned for gene or spot coordinates outside the table.
var ErrOutOfRange = errors.New("expression: index out of range")

// Table is an immutable gene x spot matrix. Rows follow Genes(), columns
// follow Spots().
type Table struct {
	genes     []string
	geneIndex map[string]int
	spots     []string
	matrix    [][]float64

	folded []string
}

// NewTable validates the matrix shape and indexes gene names. The first
// occurrence of a duplicated gene name wins lookups.
func NewTable(genes, spots []string, matrix [][]float64) (*Table, error) {
	if len(matrix) != len(genes) {
		return nil, fmt.Errorf("expression table: %d rows for %d genes", len(matrix), len(genes))
	}
	for i, row := range matrix {
		if len(row) != len(spots) {
			return nil, fmt.Errorf("expression table: row %d (%s) has %d columns, expected %d",
				i, genes[i], len(row), len(spots))
		}
	}

	t := &Table{
		genes:     append([]string(nil), genes...),
		geneIndex: make(map[string]int, len(genes)),
		spots:     append([]string(nil), spots...),
		matrix:    matrix,
		folded:    make([]string, len(genes)),
	}
	for i, g := range genes {
		if _, dup := t.geneIndex[g]; !dup {
			t.geneIndex[g] = i
		}
		t.folded[i] = foldName(g)
	}
	return t, nil
}

// NumGenes returns the row count.
func (t *Table) NumGenes() int { return len(t.genes) }

// NumSpots returns the column count.
func (t *Table) NumSpots() int { return len(t.spots) }

// Genes returns a copy of the gene order.
func (t *Table) Genes() []string {
	return append([]string(nil), t.genes...)
}

// Spots returns a copy of the spot (barcode) order.
func (t *Table) Spots() []string {
	return append([]string(nil), t.spots...)
}

// GeneIndex returns the row of gene, if present.
func (t *Table) GeneIndex(gene string) (int, bool) {
	i, ok := t.geneIndex[gene]
	return i, ok
}

// HasGene reports whether gene is a row of the table.
func (t *Table) HasGene(gene string) bool {
	_, ok := t.geneIndex[gene]
	return ok
}

// Value returns matrix[gene][spot].
func (t *Table) Value(gene, spot int) (float64, error) {
	if gene < 0 || gene >= len(t.genes) || spot < 0 || spot >= len(t.spots) {
		return 0, fmt.Errorf("%w: gene %d spot %d (table is %dx%d)",
			ErrOutOfRange, gene, spot, len(t.genes), len(t.spots))
	}
	return t.matrix[gene][spot], nil
}

// Row returns the expression vector of one gene. The slice is shared and must
// not be modified.
func (t *Table) Row(gene int) ([]float64, error) {
	if gene < 0 || gene >= len(t.genes) {
		return nil, fmt.Errorf("%w: gene %d of %d", ErrOutOfRange, gene, len(t.genes))
	}
	return t.matrix[gene], nil
}

// Search returns genes whose name contains query, ignoring case and Unicode
// compatibility differences. Results keep table order; an empty query
// returns every gene.
func (t *Table) Search(query string) []string {
	q := foldName(strings.TrimSpace(query))
	if q == "" {
		return t.Genes()
	}
	var out []string
	for i, f := range t.folded {
		if strings.Contains(f, q) {
			out = append(out, t.genes[i])
		}
	}
	return out
}

func foldName(s string) string {
	// Casers carry state, so each call gets its own.
	return cases.Fold().String(norm.NFKC.String(s))
}
