package loader

import (
	"path/filepath"

	"github.com/atlasmap-sc/spotview/internal/spot"
)

// ReadPositions reads the spot positions table: a header, then
// barcode, x, y, radius per row. Rows with fewer than four fields are
// skipped; numeric validation is left to the spot registry.
func ReadPositions(path string) ([]spot.Row, Stats, error) {
	stats := Stats{File: filepath.Base(path)}
	records, err := readRecords(path)
	if err != nil {
		return nil, stats, err
	}
	if len(records) > 0 {
		records = records[1:]
	}

	rows := make([]spot.Row, 0, len(records))
	for _, rec := range records {
		if isBlank(rec) {
			continue
		}
		stats.Rows++
		if len(rec) < 4 {
			stats.Skipped++
			continue
		}
		rows = append(rows, spot.Row{
			ID:     cleanCell(rec[0]),
			X:      cleanCell(rec[1]),
			Y:      cleanCell(rec[2]),
			Radius: cleanCell(rec[3]),
		})
	}
	stats.Kept = len(rows)
	return rows, stats, nil
}
