// Package results persists validation results: the raw per-sample metric
// sequences and the mean/std summary produced at the end of a validation pass.
//
// Three backends are provided. FileStore writes .npy arrays and JSON summaries
// into a directory, SQLiteStore keeps everything in one SQLite database, and
// PostgresStore stores sequences as pgvector columns.
package results

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrNotFound is returned when no values or summary exist under a name
var ErrNotFound = errors.New("results: not found")

// Store is durable storage for named result arrays and summaries. Saving under
// an existing name replaces the previous entry. Value sequences must be
// non-empty.
type Store interface {
	SaveValues(ctx context.Context, name string, values []float32) error
	SaveSummary(ctx context.Context, name string, summary map[string]float64) error
	LoadValues(ctx context.Context, name string) ([]float32, error)
	LoadSummary(ctx context.Context, name string) (map[string]float64, error)
	Close() error
}

// Backend selects a Store implementation
type Backend string

const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config describes where results are stored
type Config struct {
	Backend Backend
	// Dir is the output directory of the file backend
	Dir string
	// Compress writes zstd-compressed arrays with the file backend
	Compress bool
	// DSN is the SQLite path or Postgres connection URL
	DSN string
}

// ConfigFromEnv reads SEGKIT_RESULTS_BACKEND, SEGKIT_RESULTS_DIR,
// SEGKIT_RESULTS_COMPRESS and SEGKIT_RESULTS_DSN. A .env file in the working
// directory is loaded first when present.
func ConfigFromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Backend:  Backend(getEnvWithDefault("SEGKIT_RESULTS_BACKEND", string(BackendFile))),
		Dir:      getEnvWithDefault("SEGKIT_RESULTS_DIR", "."),
		Compress: getEnvWithDefault("SEGKIT_RESULTS_COMPRESS", "false") == "true",
		DSN:      os.Getenv("SEGKIT_RESULTS_DSN"),
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Open creates the store selected by cfg
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(cfg.Dir, cfg.Compress)
	case BackendSQLite:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("results: sqlite backend requires a DSN")
		}
		return NewSQLiteStore(cfg.DSN)
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("results: postgres backend requires a DSN")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("results: unknown backend %q", cfg.Backend)
	}
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("results: empty name")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("results: invalid name %q", name)
	}
	return nil
}

func validateValues(name string, values []float32) error {
	if len(values) == 0 {
		return fmt.Errorf("results: no values to save under %q", name)
	}
	return nil
}
