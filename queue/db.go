package queue

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type dbConfig struct {
	driver      string
	busyTimeout int
	synchronous string
	mkdirAll    bool
}

// DBOption customises OpenDB.
type DBOption func(*dbConfig)

// WithDriver sets the database/sql driver name. Default: "sqlite".
func WithDriver(name string) DBOption { return func(c *dbConfig) { c.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) DBOption { return func(c *dbConfig) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) DBOption { return func(c *dbConfig) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() DBOption { return func(c *dbConfig) { c.mkdirAll = true } }

// OpenDB opens the SQLite database backing the queue with WAL, a busy
// timeout and foreign keys on. The caller must blank-import the driver:
//
//	import _ "modernc.org/sqlite"
func OpenDB(path string, opts ...DBOption) (*sql.DB, error) {
	cfg := dbConfig{
		driver:      "sqlite",
		busyTimeout: 10_000,
		synchronous: "NORMAL",
	}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("queue: mkdir: %w", err)
		}
	}

	db, err := sql.Open(cfg.driver, path)
	if err != nil {
		return nil, fmt.Errorf("queue: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("queue: %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests. MaxOpenConns is pinned
// to 1 because every connection to ":memory:" is a separate database.
func OpenMemory(t testing.TB, opts ...DBOption) *sql.DB {
	t.Helper()
	db, err := OpenDB(":memory:", opts...)
	if err != nil {
		t.Fatalf("queue.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
