// Package loader reads the on-disk inputs of a dataset: spot positions,
// cell-type expression, spot membership and the gene x spot matrix.
package loader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Open opens path for reading, decompressing .gz and .zst files on the fly.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create gzip reader for %s: %w", filepath.Base(path), err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd decoder for %s: %w", filepath.Base(path), err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{closeZstd(zr), f.Close}}, nil
	default:
		return f, nil
	}
}

func closeZstd(d *zstd.Decoder) func() error {
	return func() error {
		d.Close()
		return nil
	}
}

// stackedReader closes a decompressor and the file under it.
type stackedReader struct {
	io.Reader
	closers []func() error
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// dataExt returns the extension under any compression suffix:
// "spots.tsv.gz" -> ".tsv".
func dataExt(path string) string {
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz", ".zst", ".zstd":
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return strings.ToLower(filepath.Ext(name))
}
