package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// Store is the index store. All writes flow through a single
// serialized connection; readers share a snapshot-consistent pool.
type Store struct {
	db   *sql.DB
	path string

	writeMu sync.Mutex
	writes  atomic.Int64

	closed atomic.Bool
}

// Open opens (creating if needed) the store at path and migrates the
// schema forward. An empty path opens an in-memory store for tests.
func Open(path string) (*Store, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, llmcerr.Wrap(llmcerr.KindStoreCorrupt, path, err).
				WithRemediation("delete the .llmc directory and reindex")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: modernc's :memory: databases are per-conn,
	// and the file store wants one serialized writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN pragmas are unreliable with modernc; set them explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// validateIntegrity checks an existing database before opening it for
// writes. A missing file is fine; corruption is not.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for read-only consumers (graph traversal).
func (s *Store) DB() *sql.DB { return s.db }

// WriteCount returns the number of committed write transactions. Tests
// use it to assert that a no-op sync performs zero writes.
func (s *Store) WriteCount() int64 { return s.writes.Load() }

// withTx runs fn inside a serialized write transaction and bumps the
// write counter on commit.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyStoreErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyStoreErr("commit", err)
	}
	s.writes.Add(1)
	return nil
}

// classifyStoreErr maps driver errors onto the store error kinds.
func classifyStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return llmcerr.Wrap(llmcerr.KindStoreBusy, op, err)
	case strings.Contains(msg, "malformed"), strings.Contains(msg, "corrupt"):
		return llmcerr.Wrap(llmcerr.KindStoreCorrupt, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
