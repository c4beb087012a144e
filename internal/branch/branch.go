// Package branch implements the branch manager:
// fork a branch (copying tenant rows, change history, and — if
// materialized — the on-disk tree), and delete-by-archiving with
// immediate name reuse. Uses internal/metadata's WithTx transactional
// cascade, extended to also copy a directory tree, since SQLite rows
// alone don't capture the filesystem side of a branch fork.
package branch

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/change"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/names"
	"github.com/cinchdb/cinchdb/internal/paths"
	"github.com/cinchdb/cinchdb/internal/types"
)

// Manager operates on the branches of one database.
type Manager struct {
	Root     string
	Database string
	Store    *metadata.Store
}

// New returns a Manager bound to root's database.
func New(root, database string, store *metadata.Store) *Manager {
	return &Manager{Root: root, Database: database, Store: store}
}

// Create forks source into a new branch target: validates the name,
// inserts the branch row inheriting source's schema_version, copies
// every tenant row (same materialization flags, ensuring __empty__
// exists), copies the full change history, and — if source was
// materialized — copies its on-disk directory tree verbatim.
func (m *Manager) Create(ctx context.Context, source, target string) (types.Branch, error) {
	if err := names.Validate(target, names.KindBranch); err != nil {
		return types.Branch{}, err
	}

	db, err := m.Store.GetDatabase(ctx, m.Database)
	if err != nil {
		return types.Branch{}, err
	}
	src, err := m.Store.GetBranch(ctx, db.ID, source)
	if err != nil {
		return types.Branch{}, err
	}

	tenants, err := m.Store.ListTenants(ctx, src.ID, true)
	if err != nil {
		return types.Branch{}, err
	}

	var newBranch types.Branch
	err = m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		newBranch, err = m.Store.CreateBranch(ctx, tx, db.ID, target, source, src.SchemaVersion)
		if err != nil {
			return err
		}

		haveEmpty := false
		for _, t := range tenants {
			if _, err := m.Store.CreateTenant(ctx, tx, newBranch.ID, t.Name, t.Materialized); err != nil {
				return err
			}
			if t.Name == paths.EmptyTenant {
				haveEmpty = true
			}
		}
		if !haveEmpty {
			if _, err := m.Store.CreateTenant(ctx, tx, newBranch.ID, paths.EmptyTenant, src.Materialized); err != nil {
				return err
			}
		}

		changes := change.New(m.Store, newBranch.ID)
		if err := changes.CopyFrom(ctx, tx, src.ID); err != nil {
			return err
		}

		if src.Materialized {
			if err := m.Store.SetBranchMaterialized(ctx, tx, newBranch.ID, true); err != nil {
				return err
			}
			newBranch.Materialized = true
		}
		return nil
	})
	if err != nil {
		return types.Branch{}, err
	}

	if src.Materialized {
		if err := copyTree(paths.BranchDir(m.Root, m.Database, source), paths.BranchDir(m.Root, m.Database, target)); err != nil {
			return types.Branch{}, err
		}
	}
	return newBranch, nil
}

// Delete refuses to remove "main". It archives the branch row, hard
// deletes its tenants and its change-history link rows, and removes its
// directory tree; the archived name may be reused immediately.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if name == paths.MainBranch {
		return cerrors.Of(cerrors.ErrProtectedEntity, "delete branch main", nil)
	}

	db, err := m.Store.GetDatabase(ctx, m.Database)
	if err != nil {
		return err
	}
	b, err := m.Store.GetBranch(ctx, db.ID, name)
	if err != nil {
		return err
	}

	if err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := m.Store.ArchiveBranch(ctx, tx, b.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE branch_id = ?`, b.ID); err != nil {
			return cerrors.Wrap("delete branch tenants", err)
		}
		return m.Store.ClearChangeHistory(ctx, tx, b.ID)
	}); err != nil {
		return err
	}

	if err := os.RemoveAll(paths.BranchDir(m.Root, m.Database, name)); err != nil {
		return cerrors.Of(cerrors.ErrIO, "remove branch directory", err)
	}
	return nil
}

// List returns the database's non-archived branches.
func (m *Manager) List(ctx context.Context) ([]types.Branch, error) {
	db, err := m.Store.GetDatabase(ctx, m.Database)
	if err != nil {
		return nil, err
	}
	return m.Store.ListBranches(ctx, db.ID)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return cerrors.Of(cerrors.ErrIO, "walk source branch tree", err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return cerrors.Of(cerrors.ErrIO, "resolve relative branch path", err)
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return cerrors.Of(cerrors.ErrIO, "create branch subdirectory", os.MkdirAll(target, 0o755))
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create destination directory", err)
	}
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

	if _, copyErr := io.Copy(out, in); copyErr != nil {
		return cerrors.Of(cerrors.ErrIO, "copy tenant file", copyErr)
	}
	return nil
}
