package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/atlasmap-sc/spotview/internal/expression"
	"github.com/atlasmap-sc/spotview/internal/spot"
)

// ErrMissingPath is returned when a required input is not configured.
var ErrMissingPath = errors.New("loader: input path not set")

// Paths locates the input files of one dataset.
type Paths struct {
	Positions  string
	Expression string
	Membership string
	Matrix     string
}

// Dataset is everything read from disk for one dataset.
type Dataset struct {
	Positions []spot.Row
	Table     *expression.Table
	CellTypes []string

	// Proportions maps a barcode to its cell-type proportions, aligned with CellTypes.
	Proportions map[string][]float64
	Report      Report
}

// Report gathers per-file statistics of a load.
type Report struct {
	Positions  Stats       `json:"positions"`
	Expression Stats       `json:"expression"`
	Membership Stats       `json:"membership"`
	Matrix     MatrixStats `json:"matrix"`
}

// Load reads and cross-checks all inputs. The gene order comes from the
// cell-type expression header and the spot order from the membership rows;
// the matrix header must declare exactly that shape.
func Load(ctx context.Context, p Paths, logger *slog.Logger) (*Dataset, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, in := range []struct{ name, path string }{
		{"positions", p.Positions},
		{"expression", p.Expression},
		{"membership", p.Membership},
		{"matrix", p.Matrix},
	} {
		if in.path == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingPath, in.name)
		}
	}

	ds := &Dataset{}
	var err error

	if ds.Positions, ds.Report.Positions, err = ReadPositions(p.Positions); err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}
	logStats(logger, ds.Report.Positions)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cte, st, err := ReadCellTypeExpression(p.Expression)
	if err != nil {
		return nil, fmt.Errorf("failed to read cell-type expression: %w", err)
	}
	ds.Report.Expression = st
	logStats(logger, st)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mem, st, err := ReadMembership(p.Membership)
	if err != nil {
		return nil, fmt.Errorf("failed to read membership: %w", err)
	}
	ds.Report.Membership = st
	logStats(logger, st)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, mst, err := ReadMatrixMarket(p.Matrix)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix: %w", err)
	}
	ds.Report.Matrix = mst
	logStats(logger, mst.Stats)
	if mst.DeclaredEntries != mst.Rows {
		logger.Warn("matrix entry count differs from header",
			"file", mst.File, "declared", mst.DeclaredEntries, "found", mst.Rows)
	}

	if m.NumGenes != len(cte.Genes) || m.NumSpots != len(mem.Barcodes) {
		return nil, fmt.Errorf("matrix %s is %dx%d but inputs list %d genes and %d spots",
			mst.File, m.NumGenes, m.NumSpots, len(cte.Genes), len(mem.Barcodes))
	}
	ds.Table, err = expression.NewTable(cte.Genes, mem.Barcodes, m.Values)
	if err != nil {
		return nil, err
	}

	ds.CellTypes = mem.CellTypes
	ds.Proportions = make(map[string][]float64, len(mem.Barcodes))
	for i, b := range mem.Barcodes {
		ds.Proportions[b] = mem.Proportions[i]
	}

	logger.Info("dataset inputs loaded",
		"spots", humanize.Comma(int64(len(ds.Positions))),
		"genes", humanize.Comma(int64(ds.Table.NumGenes())),
		"barcodes", humanize.Comma(int64(ds.Table.NumSpots())),
		"cell_types", len(ds.CellTypes))
	return ds, nil
}

func logStats(logger *slog.Logger, st Stats) {
	if st.Skipped > 0 || st.Coerced > 0 {
		logger.Warn("skipped malformed input",
			"file", st.File,
			"rows", humanize.Comma(int64(st.Rows)),
			"skipped", humanize.Comma(int64(st.Skipped)),
			"coerced", humanize.Comma(int64(st.Coerced)))
		return
	}
	logger.Debug("read input", "file", st.File, "rows", humanize.Comma(int64(st.Rows)))
}
