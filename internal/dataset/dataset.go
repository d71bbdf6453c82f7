package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrNotFound = errors.New("dataset file not found")

// Source hands out read-only flat files (CSV or parquet) for the loader.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// FSSource serves dataset files from a local directory.
type FSSource struct {
	root string
}

func NewFSSource(root string) (*FSSource, error) {
	if root == "" {
		return nil, fmt.Errorf("dataset directory is required")
	}
	return &FSSource{root: root}, nil
}

func (s *FSSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(s.root, filepath.Clean(name)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("open dataset file %q: %w", name, err)
	}
	return file, nil
}
