// Package history provides a SQLite-backed conversation store. Each
// namespace has its own thread; turns are persisted across restarts and
// replayed into the generation context on subsequent questions. The RAG core
// itself never persists turns — this store belongs to the serving layer.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/docqa/docqa-go/internal/prompt"
)

// Store persists and retrieves conversation turns keyed by namespace.
// Safe for concurrent use.
type Store interface {
	// Append persists a single turn for the namespace.
	Append(ctx context.Context, namespace, role, content string) error
	// Recent returns the most recent n turns for the namespace, ordered
	// oldest-first so they can feed generation directly.
	Recent(ctx context.Context, namespace string, n int) ([]prompt.Turn, error)
	// Clear removes every turn for the namespace.
	Clear(ctx context.Context, namespace string) error
	// Close releases any resources held by the store.
	Close() error
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace    TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_turns_namespace_created
    ON turns (namespace, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Append persists a single turn for the namespace.
func (s *SQLiteStore) Append(ctx context.Context, namespace, role, content string) error {
	const q = `INSERT INTO turns (namespace, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, namespace, role, content, time.Now().Unix()); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n turns for the namespace, ordered
// oldest-first. Uses a subquery to select the tail then re-order for replay.
func (s *SQLiteStore) Recent(ctx context.Context, namespace string, n int) ([]prompt.Turn, error) {
	const q = `
SELECT role, content FROM (
    SELECT id, role, content, created_at
    FROM   turns
    WHERE  namespace = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, namespace, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var turns []prompt.Turn
	for rows.Next() {
		var t prompt.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return turns, nil
}

// Clear removes every turn for the namespace.
func (s *SQLiteStore) Clear(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}
