// Package sqlite is a storage.BeamStore on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/internal/storage"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS beams (
	key TEXT PRIMARY KEY,
	record_json TEXT NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL
);
`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.BeamStore = (*Store)(nil)

// NewStore opens (creating if needed) the database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, key string, record json.RawMessage) error {
	if !json.Valid(record) {
		return fmt.Errorf("record for %s is not valid JSON", key)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO beams(key, record_json, updated_at_utc_ns)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	record_json=excluded.record_json,
	updated_at_utc_ns=excluded.updated_at_utc_ns`,
		key, string(record), s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("put beam %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record_json FROM beams WHERE key=?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get beam %s: %w", key, err)
	}
	return json.RawMessage(raw), nil
}

func (s *Store) List(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, record_json FROM beams ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list beams: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		out[key] = json.RawMessage(raw)
	}
	return out, rows.Err()
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// pragmas are per connection; a single connection keeps them in force
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}
