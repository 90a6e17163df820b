// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists the hierarchical key space as a single path-indexed JSON node table

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite. Values are kept
// as JSON text in a single nodes table keyed by path, which keeps the
// hierarchical semantics (subtree reads, subtree deletes) a prefix scan.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Keep writers queued instead of failing fast on lock contention
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the node table if it doesn't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			path TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get reads the value at path into out.
func (s *SQLiteStore) Get(ctx context.Context, path string, out any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = ?`, path).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// Set writes the value at path, overwriting any existing value.
func (s *SQLiteStore) Set(ctx context.Context, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (path, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, path, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Update merges fields into the JSON object at path. The merge happens
// inside SQLite (json_patch), so concurrent updates to different fields
// do not clobber each other.
func (s *SQLiteStore) Update(ctx context.Context, path string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (path, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			value = json_patch(nodes.value, excluded.value),
			updated_at = excluded.updated_at
	`, path, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}
	return nil
}

// Delete removes the value at path along with any descendants.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	prefix := path + "/"
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM nodes WHERE path = ? OR substr(path, 1, ?) = ?
	`, path, len(prefix), prefix)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// Push appends v as a new uniquely-keyed child of path.
func (s *SQLiteStore) Push(ctx context.Context, path string, v any) (string, error) {
	key := uuid.New().String()
	if err := s.Set(ctx, path+"/"+key, v); err != nil {
		return "", err
	}
	return key, nil
}

// Subtree returns every leaf under prefix keyed by relative path.
func (s *SQLiteStore) Subtree(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	p := prefix + "/"
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, value FROM nodes WHERE substr(path, 1, ?) = ?
	`, len(p), p)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", prefix, err)
		}
		out[path[len(p):]] = json.RawMessage(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", prefix, err)
	}
	return out, nil
}

// Claim atomically flips the named boolean field to true if it is absent
// or false. The conditional UPDATE is a single statement, so exactly one
// of any number of concurrent callers (in this process or another one
// sharing the database) observes a row change.
func (s *SQLiteStore) Claim(ctx context.Context, path string, field string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes
		SET value = json_set(value, '$.' || ?, json('true')), updated_at = ?
		WHERE path = ?
		  AND (json_extract(value, '$.' || ?) IS NULL
		       OR json_extract(value, '$.' || ?) IN (0, 'false'))
	`, field, time.Now().UTC(), path, field, field)
	if err != nil {
		return false, fmt.Errorf("claiming %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming %s: %w", path, err)
	}
	return n > 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
