// Package tenant implements the tenant lifecycle:
// create/delete/rename/copy/materialize, lazy-tenant read/write
// routing, and storage maintenance (vacuum, size, page-size tuning).
// A small manager over a shared store (see internal/metadata's
// Store), parameterized by a borrowed database/branch name rather
// than an owned mutable struct.
package tenant

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/connfactory"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/names"
	"github.com/cinchdb/cinchdb/internal/paths"
)

// maxConcurrentBulkOps bounds how many tenant files a bulk Vacuum/Size
// pass touches at once, so a database with thousands of tenants doesn't
// open that many SQLite connections simultaneously.
const maxConcurrentBulkOps = 8

// pageSizeThresholds maps an on-disk size floor (bytes) to the page
// size storage optimization should upgrade a tenant to: 1 KiB / 4 KiB /
// 8 KiB / 16 KiB based on on-disk size.
var pageSizeThresholds = []struct {
	minBytes int64
	pageSize int
}{
	{0, 512},
	{256 * 1024, 1024},
	{4 * 1024 * 1024, 4096},
	{64 * 1024 * 1024, 8192},
	{512 * 1024 * 1024, 16384},
}

// Manager operates on the tenants of one (database, branch) pair.
type Manager struct {
	Root     string
	Database string
	Branch   string
	Store    *metadata.Store
	Conn     *connfactory.Factory
}

// New returns a Manager bound to root's database/branch, using store
// for metadata access and conn (or a bare factory if nil) for opening
// tenant files.
func New(root, database, branch string, store *metadata.Store, conn *connfactory.Factory) *Manager {
	if conn == nil {
		conn = connfactory.New()
	}
	return &Manager{Root: root, Database: database, Branch: branch, Store: store, Conn: conn}
}

func (m *Manager) branchID(ctx context.Context) (string, error) {
	b, err := m.Store.GetBranch(ctx, m.databaseID(ctx), m.Branch)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (m *Manager) databaseID(ctx context.Context) string {
	db, err := m.Store.GetDatabase(ctx, m.Database)
	if err != nil {
		return ""
	}
	return db.ID
}

func isProtected(name string) bool {
	return name == paths.MainTenant || name == paths.EmptyTenant
}

// Create inserts a new tenant. A lazy tenant has no on-disk file;
// reads route to the branch's __empty__ path until the first write
// materializes it.
func (m *Manager) Create(ctx context.Context, name string, lazy bool) error {
	if err := names.Validate(name, names.KindTenant); err != nil {
		return err
	}
	if err := m.checkMaintenance(ctx); err != nil {
		return err
	}
	branchID, err := m.branchID(ctx)
	if err != nil {
		return err
	}

	if lazy {
		_, err := m.Store.CreateTenant(ctx, nil, branchID, name, false)
		return err
	}
	if _, err := m.Store.CreateTenant(ctx, nil, branchID, name, true); err != nil {
		return err
	}
	return m.materializeFile(ctx, name)
}

// Delete removes a tenant's row and, if present, its on-disk file.
// main and __empty__ cannot be deleted.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if isProtected(name) {
		return cerrors.Of(cerrors.ErrProtectedEntity, "delete tenant "+name, nil)
	}
	if err := m.checkMaintenance(ctx); err != nil {
		return err
	}
	branchID, err := m.branchID(ctx)
	if err != nil {
		return err
	}
	t, err := m.Store.GetTenant(ctx, branchID, name)
	if err != nil {
		return err
	}
	if err := m.Store.DeleteTenant(ctx, t.ID); err != nil {
		return err
	}
	if t.Materialized {
		path := paths.TenantPath(m.Root, m.Database, m.Branch, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return cerrors.Of(cerrors.ErrIO, "remove tenant file", err)
		}
	}
	return nil
}

// Rename changes a tenant's name, moving its on-disk file (if
// materialized) to the new shard location. main and __empty__ cannot
// be renamed.
func (m *Manager) Rename(ctx context.Context, oldName, newName string) error {
	if isProtected(oldName) {
		return cerrors.Of(cerrors.ErrProtectedEntity, "rename tenant "+oldName, nil)
	}
	if err := names.Validate(newName, names.KindTenant); err != nil {
		return err
	}
	if err := m.checkMaintenance(ctx); err != nil {
		return err
	}
	branchID, err := m.branchID(ctx)
	if err != nil {
		return err
	}
	t, err := m.Store.GetTenant(ctx, branchID, oldName)
	if err != nil {
		return err
	}

	if t.Materialized {
		oldPath := paths.TenantPath(m.Root, m.Database, m.Branch, oldName)
		newPath := paths.TenantPath(m.Root, m.Database, m.Branch, newName)
		if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
			return cerrors.Of(cerrors.ErrIO, "create shard directory for rename", err)
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			return cerrors.Of(cerrors.ErrIO, "rename tenant file", err)
		}
	}
	return m.Store.RenameTenant(ctx, t.ID, newName)
}

// Copy duplicates src's on-disk file (if materialized) to a new tenant
// dst and inserts its row.
func (m *Manager) Copy(ctx context.Context, src, dst string) error {
	if err := names.Validate(dst, names.KindTenant); err != nil {
		return err
	}
	if err := m.checkMaintenance(ctx); err != nil {
		return err
	}
	branchID, err := m.branchID(ctx)
	if err != nil {
		return err
	}
	s, err := m.Store.GetTenant(ctx, branchID, src)
	if err != nil {
		return err
	}

	if !s.Materialized {
		_, err := m.Store.CreateTenant(ctx, nil, branchID, dst, false)
		return err
	}

	srcPath := paths.TenantPath(m.Root, m.Database, m.Branch, src)
	dstPath := paths.TenantPath(m.Root, m.Database, m.Branch, dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create shard directory for copy", err)
	}
	if err := copyFile(srcPath, dstPath); err != nil {
		return err
	}
	_, err = m.Store.CreateTenant(ctx, nil, branchID, dst, true)
	return err
}

// Materialize creates name's on-disk file from the branch's __empty__
// template, if it is not already materialized.
func (m *Manager) Materialize(ctx context.Context, name string) error {
	if err := m.checkMaintenance(ctx); err != nil {
		return err
	}
	branchID, err := m.branchID(ctx)
	if err != nil {
		return err
	}
	t, err := m.Store.GetTenant(ctx, branchID, name)
	if err != nil {
		return err
	}
	if t.Materialized {
		return nil
	}
	if err := m.Store.AcquireMaintenance(ctx, nil, branchID, "materialize tenant "+name); err != nil {
		return err
	}
	defer func() { _ = m.Store.ReleaseMaintenance(ctx, nil, branchID) }()
	if err := m.materializeFile(ctx, name); err != nil {
		return err
	}
	return m.Store.SetTenantMaterialized(ctx, nil, t.ID, true)
}

// List returns the branch's tenants, hiding __empty__ unless
// includeEmpty is set.
func (m *Manager) List(ctx context.Context, includeEmpty bool) ([]string, error) {
	branchID, err := m.branchID(ctx)
	if err != nil {
		return nil, err
	}
	tenants, err := m.Store.ListTenants(ctx, branchID, includeEmpty)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(tenants))
	for i, t := range tenants {
		out[i] = t.Name
	}
	return out, nil
}

// GetPathForRead returns the path to read from: the tenant's own file
// if materialized, otherwise the branch's __empty__ template.
func (m *Manager) GetPathForRead(ctx context.Context, name string) (string, error) {
	branchID, err := m.branchID(ctx)
	if err != nil {
		return "", err
	}
	t, err := m.Store.GetTenant(ctx, branchID, name)
	if err != nil {
		return "", err
	}
	if t.Materialized {
		return paths.TenantPath(m.Root, m.Database, m.Branch, name), nil
	}
	return paths.EmptyTenantPath(m.Root, m.Database, m.Branch), nil
}

// GetPathForWrite returns the path to write to, materializing a lazy
// tenant first (under the maintenance lock, so it sees the latest
// applied schema).
func (m *Manager) GetPathForWrite(ctx context.Context, name string) (string, error) {
	if err := m.Materialize(ctx, name); err != nil {
		return "", err
	}
	return paths.TenantPath(m.Root, m.Database, m.Branch, name), nil
}

// Size returns the on-disk size in bytes of a materialized tenant's
// file, or 0 for a lazy one.
func (m *Manager) Size(ctx context.Context, name string) (int64, error) {
	branchID, err := m.branchID(ctx)
	if err != nil {
		return 0, err
	}
	t, err := m.Store.GetTenant(ctx, branchID, name)
	if err != nil {
		return 0, err
	}
	if !t.Materialized {
		return 0, nil
	}
	info, err := os.Stat(paths.TenantPath(m.Root, m.Database, m.Branch, name))
	if err != nil {
		return 0, cerrors.Of(cerrors.ErrIO, "stat tenant file", err)
	}
	return info.Size(), nil
}

// Vacuum runs SQLite's VACUUM against a materialized tenant's file to
// reclaim free pages.
func (m *Manager) Vacuum(ctx context.Context, name string) error {
	path, err := m.GetPathForRead(ctx, name)
	if err != nil {
		return err
	}
	db, err := m.Conn.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(ctx, "VACUUM")
	return cerrors.Of(cerrors.ErrIO, "vacuum tenant", err)
}

// OptimizeStorage upgrades a materialized tenant's page size based on
// its current on-disk size, using VACUUM INTO since SQLite's page size
// can only change that way.
func (m *Manager) OptimizeStorage(ctx context.Context, name string) error {
	size, err := m.Size(ctx, name)
	if err != nil {
		return err
	}
	target := targetPageSize(size)

	path := paths.TenantPath(m.Root, m.Database, m.Branch, name)
	tmp := path + ".optimize.tmp"
	db, err := m.Conn.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, "PRAGMA page_size = "+strconv.Itoa(target)); err != nil {
		return cerrors.Of(cerrors.ErrIO, "set target page size", err)
	}
	if _, err := db.ExecContext(ctx, "VACUUM INTO '"+tmp+"'"); err != nil {
		return cerrors.Of(cerrors.ErrIO, "vacuum into optimized file", err)
	}
	_ = db.Close()

	if err := os.Rename(tmp, path); err != nil {
		return cerrors.Of(cerrors.ErrIO, "replace tenant file with optimized copy", err)
	}
	return nil
}

// TenantSize pairs a tenant name with its on-disk size, as returned by SizeAll.
type TenantSize struct {
	Name string
	Size int64
}

// SizeAll reports the on-disk size of each named tenant (0 for a lazy
// one), in the order given, bounding concurrency with a weighted semaphore so a database with
// many tenants doesn't stat them all at once.
func (m *Manager) SizeAll(ctx context.Context, names []string) ([]TenantSize, error) {
	sizes := make([]TenantSize, len(names))
	sem := semaphore.NewWeighted(maxConcurrentBulkOps)
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			size, err := m.Size(gctx, name)
			if err != nil {
				return err
			}
			sizes[i] = TenantSize{Name: name, Size: size}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sizes, nil
}

// VacuumAll runs Vacuum against every named tenant concurrently,
// bounded by the same semaphore as SizeAll. The first tenant failure
// cancels the remaining work and is returned.
func (m *Manager) VacuumAll(ctx context.Context, names []string) error {
	sem := semaphore.NewWeighted(maxConcurrentBulkOps)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return m.Vacuum(gctx, name)
		})
	}
	return g.Wait()
}

func targetPageSize(size int64) int {
	page := pageSizeThresholds[0].pageSize
	for _, t := range pageSizeThresholds {
		if size >= t.minBytes {
			page = t.pageSize
		}
	}
	return page
}

func (m *Manager) materializeFile(ctx context.Context, name string) error {
	emptyPath := paths.EmptyTenantPath(m.Root, m.Database, m.Branch)
	dstPath := paths.TenantPath(m.Root, m.Database, m.Branch, name)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create tenant shard directory", err)
	}
	if _, err := os.Stat(emptyPath); os.IsNotExist(err) {
		db, err := m.Conn.Open(ctx, emptyPath)
		if err != nil {
			return err
		}
		if err := db.Close(); err != nil {
			return cerrors.Of(cerrors.ErrIO, "initialize empty tenant template", err)
		}
	}
	if err := copyFile(emptyPath, dstPath); err != nil {
		return err
	}
	db, err := m.Conn.Open(ctx, dstPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(ctx, "VACUUM")
	return cerrors.Of(cerrors.ErrIO, "vacuum materialized tenant", err)
}

func (m *Manager) checkMaintenance(ctx context.Context) error {
	branchID, err := m.branchID(ctx)
	if err != nil {
		return err
	}
	in, err := m.Store.InMaintenance(ctx, branchID)
	if err != nil {
		return err
	}
	if in {
		return cerrors.Of(cerrors.ErrMaintenanceInProgress, "tenant mutation", nil)
	}
	return nil
}

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

	if _, copyErr := io.Copy(out, in); copyErr != nil {
		return cerrors.Of(cerrors.ErrIO, "copy tenant file", copyErr)
	}
	return nil
}
