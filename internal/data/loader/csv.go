package loader

import (
	"encoding/csv"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// Stats counts what a reader kept and dropped.
type Stats struct {
	File    string `json:"file"`
	Rows    int    `json:"rows"`
	Kept    int    `json:"kept"`
	Skipped int    `json:"skipped"`

	// Coerced counts cells that did not parse and were read as 0.
	Coerced int `json:"coerced"`
}

// readRecords reads a comma (or, for .tsv, tab) separated file. Rows may have
// differing field counts.
func readRecords(path string) ([][]string, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	if dataExt(path) == ".tsv" {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

func cleanCell(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

// cellValue parses a numeric cell; anything else reads as 0 with ok false.
func cellValue(s string) (v float64, ok bool) {
	v, err := strconv.ParseFloat(cleanCell(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isBlank(row []string) bool {
	for _, c := range row {
		if cleanCell(c) != "" {
			return false
		}
	}
	return true
}
