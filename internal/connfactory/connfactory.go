// Package connfactory opens tenant SQLite files with the project's
// standard pragmas, optionally routing the connection through
// a registered encryption provider before any other statement runs.
package connfactory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cinchdb/cinchdb/internal/cerrors"

	_ "modernc.org/sqlite"
)

// pageCacheSizeKiB sizes SQLite's page cache in the low megabytes.
// Negative cache_size is interpreted by SQLite as kibibytes.
const pageCacheSizeKiB = -8000

// defaultBusyTimeout bounds how long a tenant connection waits on
// SQLITE_BUSY before the caller's own retry loop takes over.
const defaultBusyTimeout = 10 * time.Second

// EncryptionProvider is the optional pluggable encryption slot: the
// core never imports a concrete implementation, only this interface. When
// registered, the factory asks it for a key pragma to run immediately
// after opening a tenant connection, before any other statement.
type EncryptionProvider interface {
	// KeyPragma returns the SQL statement that unlocks tenantPath (e.g.
	// "PRAGMA key = '...'"), or an error if no key can be produced.
	KeyPragma(ctx context.Context, tenantPath string) (string, error)
	// Rotate is consulted by the tenant lifecycle on rename/copy so a
	// provider keyed by tenant identity can issue a new wrapped key.
	Rotate(ctx context.Context, oldPath, newPath string) error
}

// Factory opens tenant connections with the project's standard
// pragmas and an optional encryption provider.
type Factory struct {
	Encryption EncryptionProvider
}

// New returns a Factory with no encryption provider registered.
func New() *Factory {
	return &Factory{}
}

// Open opens path (typically a tenant's .db file, including
// __empty__) with WAL journaling, synchronous=NORMAL, an in-memory
// temp store, foreign keys on, and a sized page cache. If an
// encryption provider is registered its key pragma runs first; a
// failure there closes the connection and reports ErrEncryption.
func (f *Factory) Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, cerrors.Of(cerrors.ErrIO, "open tenant connection", err)
	}
	db.SetMaxOpenConns(1)

	if f.Encryption != nil {
		pragma, err := f.Encryption.KeyPragma(ctx, path)
		if err != nil {
			_ = db.Close()
			return nil, cerrors.Of(cerrors.ErrEncryption, "derive tenant key", err)
		}
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, cerrors.Of(cerrors.ErrEncryption, "apply tenant key", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, cerrors.Of(cerrors.ErrEncryption, "verify tenant key", err)
	}
	return db, nil
}

func dsn(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=cache_size(%d)&_time_format=sqlite",
		path, defaultBusyTimeout.Milliseconds(), pageCacheSizeKiB,
	)
}

// WithRetry runs op, retrying with exponential backoff while the
// underlying SQLite error looks like lock contention (SQLITE_BUSY /
// "database is locked"). A retried apply is safe because it skips
// changes already marked applied. Non-retryable errors stop immediately.
func WithRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isBusyError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

func isBusyError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
