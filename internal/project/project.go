// Package project implements the project initializer:
// creating the hidden state directory, bootstrapping the metadata
// index, and seeding the root main database/branch/tenant. The
// optional per-project config.toml is a small struct with a
// DefaultConfig and a Load/Save pair, stored as a TOML file of engine
// tunables via BurntSushi/toml.
package project

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/paths"
)

// ConfigFileName is the optional per-project tunables file, read if
// present and otherwise defaulted.
const ConfigFileName = "config.toml"

// Config holds engine tunables a project may override. The Engine reads
// BusyTimeout and MaintenanceStaleAfter, and a zero value of either
// falls back to the built-in default. PathCacheSize and
// DefaultPageSize are saved and loaded but not read by any component.
type Config struct {
	BusyTimeout           time.Duration `toml:"busy_timeout"`
	PathCacheSize         int           `toml:"path_cache_size"`
	DefaultPageSize       int           `toml:"default_page_size"`
	MaintenanceStaleAfter time.Duration `toml:"maintenance_stale_after"`
}

// DefaultConfig returns the engine's built-in tunables.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:           30 * time.Second,
		PathCacheSize:         paths.DefaultCacheSize,
		DefaultPageSize:       512,
		MaintenanceStaleAfter: time.Hour,
	}
}

// LoadConfig reads root's config.toml, returning DefaultConfig() if the
// file does not exist.
func LoadConfig(root string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filepath.Join(paths.StateRoot(root), ConfigFileName))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, cerrors.Of(cerrors.ErrIO, "read project config", err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, cerrors.Wrap("parse project config", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to root's config.toml.
func SaveConfig(root string, cfg Config) error {
	stateRoot := paths.StateRoot(root)
	if err := os.MkdirAll(stateRoot, 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create state directory", err)
	}
	f, err := os.Create(filepath.Join(stateRoot, ConfigFileName))
	if err != nil {
		return cerrors.Of(cerrors.ErrIO, "create project config", err)
	}
	defer func() { _ = f.Close() }()
	return cerrors.Wrap("write project config", toml.NewEncoder(f).Encode(cfg))
}

// Init creates root's hidden state directory, opens (bootstrapping)
// its metadata index, and — if it has no databases yet — inserts a
// root "main" database with a "main" branch and a lazy "main" tenant.
func Init(ctx context.Context, root string) error {
	if err := os.MkdirAll(paths.StateRoot(root), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create project state directory", err)
	}

	h, err := metadata.Acquire(ctx, root, metadata.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()

	existing, err := h.ListDatabases(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	db, err := h.CreateDatabase(ctx, paths.MainBranch, true)
	if err != nil {
		return err
	}
	branch, err := h.CreateBranch(ctx, nil, db.ID, paths.MainBranch, "", "")
	if err != nil {
		return err
	}
	if _, err := h.CreateTenant(ctx, nil, branch.ID, paths.MainTenant, false); err != nil {
		return err
	}
	return nil
}

// InitDatabase inserts a new database row. If lazy is false, it also
// materializes the main branch's directory tree and creates an
// __empty__ tenant file.
func InitDatabase(ctx context.Context, root, name string, lazy bool) error {
	h, err := metadata.Acquire(ctx, root, metadata.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()

	db, err := h.CreateDatabase(ctx, name, !lazy)
	if err != nil {
		return err
	}
	branch, err := h.CreateBranch(ctx, nil, db.ID, paths.MainBranch, "", "")
	if err != nil {
		return err
	}

	if lazy {
		_, err := h.CreateTenant(ctx, nil, branch.ID, paths.MainTenant, false)
		return err
	}

	branchDir := paths.BranchDir(root, name, paths.MainBranch)
	if err := os.MkdirAll(paths.TenantsDir(root, name, paths.MainBranch), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create branch directory "+branchDir, err)
	}
	emptyPath := paths.EmptyTenantPath(root, name, paths.MainBranch)
	if err := os.MkdirAll(filepath.Dir(emptyPath), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create empty tenant shard directory", err)
	}
	if err := createEmptySQLiteFile(ctx, emptyPath); err != nil {
		return err
	}
	if _, err := h.CreateTenant(ctx, nil, branch.ID, paths.EmptyTenant, true); err != nil {
		return err
	}

	mainPath := paths.TenantPath(root, name, paths.MainBranch, paths.MainTenant)
	if err := os.MkdirAll(filepath.Dir(mainPath), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create main tenant shard directory", err)
	}
	if err := copyFile(emptyPath, mainPath); err != nil {
		return err
	}
	if _, err := h.CreateTenant(ctx, nil, branch.ID, paths.MainTenant, true); err != nil {
		return err
	}
	if err := h.SetBranchMaterialized(ctx, nil, branch.ID, true); err != nil {
		return err
	}
	return h.SetDatabaseMaterialized(ctx, db.ID, true)
}

// MaterializeDatabase turns a lazy database (created with
// InitDatabase(..., lazy=true)) into a materialized one: it creates
// the main branch's on-disk directory tree, its __empty__ schema
// template, and materializes the existing "main" tenant row, mirroring
// InitDatabase's eager path for a database that already exists.
// Already-materialized databases are left untouched.
func MaterializeDatabase(ctx context.Context, root, name string) error {
	h, err := metadata.Acquire(ctx, root, metadata.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()

	db, err := h.GetDatabase(ctx, name)
	if err != nil {
		return err
	}
	if db.Materialized {
		return nil
	}
	branch, err := h.GetBranch(ctx, db.ID, paths.MainBranch)
	if err != nil {
		return err
	}

	branchDir := paths.BranchDir(root, name, paths.MainBranch)
	if err := os.MkdirAll(paths.TenantsDir(root, name, paths.MainBranch), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create branch directory "+branchDir, err)
	}
	emptyPath := paths.EmptyTenantPath(root, name, paths.MainBranch)
	if err := os.MkdirAll(filepath.Dir(emptyPath), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create empty tenant shard directory", err)
	}
	if err := createEmptySQLiteFile(ctx, emptyPath); err != nil {
		return err
	}
	if _, err := h.CreateTenant(ctx, nil, branch.ID, paths.EmptyTenant, true); err != nil {
		return err
	}

	mainPath := paths.TenantPath(root, name, paths.MainBranch, paths.MainTenant)
	if err := os.MkdirAll(filepath.Dir(mainPath), 0o755); err != nil {
		return cerrors.Of(cerrors.ErrIO, "create main tenant shard directory", err)
	}
	if err := copyFile(emptyPath, mainPath); err != nil {
		return err
	}
	mainTenant, err := h.GetTenant(ctx, branch.ID, paths.MainTenant)
	if err != nil {
		return err
	}
	if err := h.SetTenantMaterialized(ctx, nil, mainTenant.ID, true); err != nil {
		return err
	}
	if err := h.SetBranchMaterialized(ctx, nil, branch.ID, true); err != nil {
		return err
	}
	return h.SetDatabaseMaterialized(ctx, db.ID, true)
}
