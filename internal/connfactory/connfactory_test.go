package connfactory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cinchdb/cinchdb/internal/cerrors"
)

func TestOpenAppliesStandardPragmas(t *testing.T) {
	f := New()
	path := filepath.Join(t.TempDir(), "tenant.db")

	db, err := f.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	var journalMode string
	if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}

	var foreignKeys int
	if err := db.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("foreign_keys = %d, want 1", foreignKeys)
	}
}

type failingProvider struct{}

func (failingProvider) KeyPragma(ctx context.Context, tenantPath string) (string, error) {
	return "", errors.New("no key material")
}

func (failingProvider) Rotate(ctx context.Context, oldPath, newPath string) error { return nil }

func TestOpenEncryptionFailureClosesConnection(t *testing.T) {
	f := &Factory{Encryption: failingProvider{}}
	path := filepath.Join(t.TempDir(), "tenant.db")

	_, err := f.Open(context.Background(), path)
	if !cerrors.Is(err, cerrors.ErrEncryption) {
		t.Fatalf("Open() error = %v, want ErrEncryption", err)
	}
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	wantErr := errors.New("permanent failure")
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithRetry() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable error, got %d", calls)
	}
}
