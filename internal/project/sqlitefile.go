package project

import (
	"context"
	"io"
	"os"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/connfactory"
)

// createEmptySQLiteFile materializes a fresh, valid SQLite file at path
// by opening and immediately closing a connection through the standard
// connection factory — this is the byte-for-byte template that every
// new eager database's __empty__ tenant starts from.
func createEmptySQLiteFile(ctx context.Context, path string) error {
	f := connfactory.New()
	db, err := f.Open(ctx, path)
	if err != nil {
		return err
	}
	return db.Close()
}

// copyFile copies src to dst byte for byte: materializing a tenant
// copies the branch's current __empty__ file this way.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return cerrors.Of(cerrors.ErrIO, "open source tenant file", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return cerrors.Of(cerrors.ErrIO, "create destination tenant file", err)
	}
	defer func() {
		closeErr := out.Close()
		if err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return cerrors.Of(cerrors.ErrIO, "copy tenant file", err)
	}
	return nil
}
