package loader

import (
	"fmt"
	"path/filepath"
)

// CellTypeExpression is the cell type x gene table. Its header fixes the
// gene order of the dataset.
type CellTypeExpression struct {
	Genes     []string
	CellTypes []string

	// Values[cellType][gene]
	Values [][]float64
}

// ReadCellTypeExpression reads a CSV whose header lists gene names after the
// first column and whose rows are cell types. Non-numeric cells read as 0 and
// short rows are padded with 0.
func ReadCellTypeExpression(path string) (*CellTypeExpression, Stats, error) {
	stats := Stats{File: filepath.Base(path)}
	records, err := readRecords(path)
	if err != nil {
		return nil, stats, err
	}
	if len(records) == 0 || len(records[0]) < 2 {
		return nil, stats, fmt.Errorf("%s: header must name at least one gene", filepath.Base(path))
	}

	out := &CellTypeExpression{}
	for _, h := range records[0][1:] {
		out.Genes = append(out.Genes, cleanCell(h))
	}

	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		stats.Rows++
		name := cleanCell(rec[0])
		if name == "" {
			stats.Skipped++
			continue
		}
		row := make([]float64, len(out.Genes))
		for g := range row {
			if g+1 >= len(rec) {
				break
			}
			v, ok := cellValue(rec[g+1])
			if !ok {
				stats.Coerced++
			}
			row[g] = v
		}
		out.CellTypes = append(out.CellTypes, name)
		out.Values = append(out.Values, row)
	}
	stats.Kept = len(out.CellTypes)
	return out, stats, nil
}
