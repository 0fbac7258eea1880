package loader

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// MatrixStats extends Stats with the sizes declared by the header.
type MatrixStats struct {
	Stats
	DeclaredEntries int `json:"declared_entries"`
}

// Matrix is a dense gene x spot matrix read from a sparse file.
type Matrix struct {
	NumGenes int
	NumSpots int

	// Values[gene][spot]
	Values [][]float64
}

// ReadMatrixMarket reads a coordinate matrix: lines starting with '%' are
// comments, the first other line is "numGenes numSpots numEntries", and each
// following line is a 1-indexed "gene spot value" triple. Malformed or
// out-of-range triples are skipped; a repeated coordinate keeps the last value.
func ReadMatrixMarket(path string) (*Matrix, MatrixStats, error) {
	stats := MatrixStats{Stats: Stats{File: filepath.Base(path)}}
	rc, err := Open(path)
	if err != nil {
		return nil, stats, err
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var m *Matrix
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		fields := strings.Fields(line)

		if m == nil {
			if len(fields) < 3 {
				return nil, stats, fmt.Errorf("%s: malformed header %q", stats.File, line)
			}
			genes, errG := strconv.Atoi(fields[0])
			spots, errS := strconv.Atoi(fields[1])
			entries, errE := strconv.Atoi(fields[2])
			if errG != nil || errS != nil || errE != nil || genes < 0 || spots < 0 {
				return nil, stats, fmt.Errorf("%s: malformed header %q", stats.File, line)
			}
			stats.DeclaredEntries = entries
			m = &Matrix{NumGenes: genes, NumSpots: spots, Values: make([][]float64, genes)}
			for g := range m.Values {
				m.Values[g] = make([]float64, spots)
			}
			continue
		}

		stats.Rows++
		if len(fields) < 3 {
			stats.Skipped++
			continue
		}
		g, errG := strconv.Atoi(fields[0])
		s, errS := strconv.Atoi(fields[1])
		v, ok := cellValue(fields[2])
		if errG != nil || errS != nil || !ok || g < 1 || g > m.NumGenes || s < 1 || s > m.NumSpots {
			stats.Skipped++
			continue
		}
		m.Values[g-1][s-1] = v
		stats.Kept++
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("scan %s: %w", stats.File, err)
	}
	if m == nil {
		return nil, stats, fmt.Errorf("%s: missing header line", stats.File)
	}
	return m, stats, nil
}
