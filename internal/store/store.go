// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"codeden-cli/internal/testutil"
)

const (
	// FileName is the database file inside the state directory.
	FileName = "codeden.db"

	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"

	timeLayout = time.RFC3339Nano
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		digest TEXT NOT NULL,
		tag TEXT NOT NULL,
		base_image TEXT NOT NULL,
		resolved_base TEXT NOT NULL DEFAULT '',
		image_id TEXT NOT NULL DEFAULT '',
		engine TEXT NOT NULL DEFAULT '',
		cache_hit INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS builds_digest ON builds(digest, created_at);`,
	`CREATE TABLE IF NOT EXISTS build_packages (
		build_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		package TEXT NOT NULL,
		PRIMARY KEY (build_id, position),
		FOREIGN KEY (build_id) REFERENCES builds(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		backend TEXT NOT NULL,
		image TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL,
		workdir TEXT NOT NULL,
		started_at TEXT NOT NULL,
		stopped_at TEXT,
		exit_code INTEGER,
		error TEXT NOT NULL DEFAULT ''
	);`,
}

type (
	// Store is a handle on the history database.
	Store struct {
		db    *sql.DB
		clock testutil.Clock
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithClock sets the time source for record timestamps.
func WithClock(c testutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// DefaultPath returns the database path inside stateDir.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// Open opens (creating if needed) the database at path and ensures the
// schema. Pass MemoryPath for a throwaway database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := "file:" + MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, clock: testutil.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
