package results

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS result_values (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	count       INTEGER NOT NULL,
	data        BLOB NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS result_summary_names (
	name        TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS result_summaries (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       REAL NOT NULL,
	created_at  TEXT NOT NULL,
	UNIQUE (name, key)
);
`

// SQLiteStore keeps result sequences as little-endian float32 blobs and
// summaries as one row per key. Saved summary names are recorded separately
// so an empty summary reads back as an empty map.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and runs migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveValues(ctx context.Context, name string, values []float32) error {
	if err := validateValues(name, values); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO result_values (id, name, count, data, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
			count = excluded.count,
			data = excluded.data,
			created_at = excluded.created_at`,
		uuid.New().String(), name, len(values), encodeFloat32s(values), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save values %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, name string, summary map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM result_summaries WHERE name = ?`, name); err != nil {
		return fmt.Errorf("clear summary %s: %w", name, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO result_summary_names (name, created_at) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET created_at = excluded.created_at`,
		name, now,
	); err != nil {
		return fmt.Errorf("save summary %s: %w", name, err)
	}
	for key, value := range summary {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO result_summaries (id, name, key, value, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), name, key, value, now,
		)
		if err != nil {
			return fmt.Errorf("save summary %s/%s: %w", name, key, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadValues(ctx context.Context, name string) ([]float32, error) {
	var count int
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT count, data FROM result_values WHERE name = ?`, name,
	).Scan(&count, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load values %s: %w", name, err)
	}
	if len(data) != 4*count {
		return nil, fmt.Errorf("load values %s: blob holds %d bytes for %d values", name, len(data), count)
	}
	return decodeFloat32s(data), nil
}

func (s *SQLiteStore) LoadSummary(ctx context.Context, name string) (map[string]float64, error) {
	var saved string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM result_summary_names WHERE name = ?`, name,
	).Scan(&saved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load summary %s: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM result_summaries WHERE name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("load summary %s: %w", name, err)
	}
	defer rows.Close()

	summary := make(map[string]float64)
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan summary %s: %w", name, err)
		}
		summary[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summary, nil
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
