package loader

import (
	"fmt"
	"path/filepath"
)

// Membership holds per-spot cell-type proportions. Its row order fixes the
// spot order of the expression matrix.
type Membership struct {
	Barcodes  []string
	CellTypes []string

	// Proportions[spot][cellType]
	Proportions [][]float64
}

// ReadMembership reads a CSV with a header of cell-type names after the first
// column and one row per barcode. Rows with fewer than two fields are
// skipped; non-numeric proportions read as 0.
func ReadMembership(path string) (*Membership, Stats, error) {
	stats := Stats{File: filepath.Base(path)}
	records, err := readRecords(path)
	if err != nil {
		return nil, stats, err
	}
	if len(records) == 0 {
		return nil, stats, fmt.Errorf("%s: empty membership file", filepath.Base(path))
	}

	out := &Membership{}
	for _, h := range records[0][min(1, len(records[0])):] {
		out.CellTypes = append(out.CellTypes, cleanCell(h))
	}

	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		stats.Rows++
		if len(rec) < 2 || cleanCell(rec[0]) == "" {
			stats.Skipped++
			continue
		}
		props := make([]float64, len(out.CellTypes))
		for c := range props {
			if c+1 >= len(rec) {
				break
			}
			v, ok := cellValue(rec[c+1])
			if !ok {
				stats.Coerced++
			}
			props[c] = v
		}
		out.Barcodes = append(out.Barcodes, cleanCell(rec[0]))
		out.Proportions = append(out.Proportions, props)
	}
	stats.Kept = len(out.Barcodes)
	return out, stats, nil
}
