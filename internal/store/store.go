// Package store implements the Durable Store: a transactional key/index
// store over two entity tables (offline_memos, offline_books) and one
// outbox table (sync_queue), backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// queryContext is the interface satisfied by both *sql.DB and *sql.Tx,
// letting the same query helpers run standalone or inside a transaction.
type queryContext interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStore is the SQLite-backed Durable Store.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// Option configures optional SQLiteStore settings.
type Option func(*SQLiteStore)

// New opens (creating if necessary) a SQLite database at dbPath, enables
// WAL mode and safety pragmas, and runs all pending migrations. The store
// must not be used before New returns successfully.
func New(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DBPath returns the path the store was opened against (":memory:" for
// in-memory stores).
func (s *SQLiteStore) DBPath() string {
	return s.dbPath
}

// VacuumInto writes an atomic, consistent snapshot of the store to dstPath
// using SQLite's VACUUM INTO, used by internal/backup.
func (s *SQLiteStore) VacuumInto(ctx context.Context, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	_ = os.Remove(dstPath)
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dstPath); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dstPath, err)
	}
	return nil
}
