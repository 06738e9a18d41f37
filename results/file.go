package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tsawler/go-segkit/npy"
)

// FileStore writes each value sequence to <dir>/<name>.npy and each summary
// to <dir>/<name>.json.
type FileStore struct {
	dir      string
	compress bool
}

// NewFileStore creates dir if needed. With compress set, arrays are written as
// <name>.npy.zst.
func NewFileStore(dir string, compress bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("results: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, compress: compress}, nil
}

// Dir returns the output directory
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) valuesPath(name string) string {
	path := filepath.Join(s.dir, name+".npy")
	if s.compress {
		path += ".zst"
	}
	return path
}

func (s *FileStore) SaveValues(_ context.Context, name string, values []float32) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := validateValues(name, values); err != nil {
		return err
	}
	return npy.SaveFloat32(s.valuesPath(name), values)
}

func (s *FileStore) SaveSummary(_ context.Context, name string, summary map[string]float64) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("results: encode summary %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(s.dir, name+".json"), data, 0o644)
}

func (s *FileStore) LoadValues(_ context.Context, name string) ([]float32, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	t, err := npy.Load(s.valuesPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return t.Float32Data()
}

func (s *FileStore) LoadSummary(_ context.Context, name string) (map[string]float64, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	summary := make(map[string]float64)
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("results: decode summary %s: %w", name, err)
	}
	return summary, nil
}

// Close is a no-op
func (s *FileStore) Close() error {
	return nil
}
