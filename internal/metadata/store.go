// Package metadata implements the project metadata index: the single
// SQLite file enumerating databases, branches, tenants, and
// changes without touching any tenant file. A per-project connection
// pool (see pool.go) hands out one shared *Store per canonicalized
// project root.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// dbExecutor abstracts *sql.DB, *sql.Conn, and *sql.Tx so CRUD helpers
// can run either outside or inside a caller-managed transaction.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the metadata index's single shared connection for one
// project. All exported methods are safe for concurrent use: SQLite's
// serialized mode plus Go's database/sql connection handling allows a
// bounded pool over one physical connection.
type Store struct {
	db   *sql.DB
	root string
}

// Options configures how a Store opens the metadata index.
type Options struct {
	// BusyTimeout bounds how long a writer waits for the database-level
	// write lock before returning SQLITE_BUSY. Zero uses a 30s default.
	BusyTimeout time.Duration
}

// open creates (if absent) and opens the metadata index at root,
// bootstrapping its schema. Unexported: callers go through the pool in
// pool.go so a project root maps to exactly one *Store.
func open(ctx context.Context, metadataPath string, opts Options) (*Store, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 30 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(metadataPath), 0o755); err != nil {
		return nil, fmt.Errorf("metadata: create state directory for %s: %w", metadataPath, err)
	}
	db, err := sql.Open("sqlite", connString(metadataPath, busy.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("metadata: open %s: %w", metadataPath, err)
	}
	// The metadata index is a single logical writer; one physical
	// connection avoids SQLITE_BUSY storms between goroutines that
	// would otherwise each grab their own database/sql connection.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the metadata index's connection. Dropping
// the Engine handle down to its last lease reaches this.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers (e.g. tests) that need
// to run ad hoc diagnostic queries. External tools may read this file
// read-only; they must not go through this accessor to write to it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on any error or panic. Used by every multi-statement
// mutation (branch create/delete cascades, change append + link) so
// the metadata index is always left consistent: a delete cascade
// always runs inside a single explicit transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}
