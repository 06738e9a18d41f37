package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps result sequences in a pgvector column and summaries as
// JSONB. Storing the sequences as vectors lets runs be compared in SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and initializes the schema
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = 4
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.InitializeSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// InitializeSchema creates the vector extension and result tables
func (s *PostgresStore) InitializeSchema(ctx context.Context) error {
	queries := []string{
		"CREATE EXTENSION IF NOT EXISTS vector;",
		`CREATE TABLE IF NOT EXISTS result_values (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			count INTEGER NOT NULL,
			data vector NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS result_summaries (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			summary JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`,
	}

	for _, query := range queries {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveValues(ctx context.Context, name string, values []float32) error {
	if err := validateValues(name, values); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO result_values (id, name, count, data, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (name) DO UPDATE SET
			count = EXCLUDED.count,
			data = EXCLUDED.data,
			created_at = EXCLUDED.created_at`,
		uuid.New().String(), name, len(values), pgvector.NewVector(values),
	)
	if err != nil {
		return fmt.Errorf("failed to save values %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, name string, summary map[string]float64) error {
	if summary == nil {
		summary = map[string]float64{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO result_summaries (id, name, summary, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET
			summary = EXCLUDED.summary,
			created_at = EXCLUDED.created_at`,
		uuid.New().String(), name, summary,
	)
	if err != nil {
		return fmt.Errorf("failed to save summary %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) LoadValues(ctx context.Context, name string) ([]float32, error) {
	var data pgvector.Vector
	err := s.pool.QueryRow(ctx, `SELECT data FROM result_values WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load values %s: %w", name, err)
	}
	return data.Slice(), nil
}

func (s *PostgresStore) LoadSummary(ctx context.Context, name string) (map[string]float64, error) {
	var summary map[string]float64
	err := s.pool.QueryRow(ctx, `SELECT summary FROM result_summaries WHERE name = $1`, name).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary %s: %w", name, err)
	}
	if summary == nil {
		summary = map[string]float64{}
	}
	return summary, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
