package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/paths"
)

func TestInitSeedsRootDatabase(t *testing.T) {
	root := t.TempDir()
	t.Cleanup(func() { _ = metadata.CloseAll() })
	ctx := context.Background()

	if err := Init(ctx, root); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := os.Stat(paths.MetadataPath(root)); err != nil {
		t.Fatalf("expected metadata index to exist: %v", err)
	}

	h, err := metadata.Acquire(ctx, root, metadata.Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = h.Release() }()

	dbs, err := h.ListDatabases(ctx)
	if err != nil || len(dbs) != 1 || dbs[0].Name != "main" {
		t.Fatalf("ListDatabases() = %v, %v, want one 'main' database", dbs, err)
	}

	branches, err := h.ListBranches(ctx, dbs[0].ID)
	if err != nil || len(branches) != 1 || branches[0].Name != "main" {
		t.Fatalf("ListBranches() = %v, %v, want one 'main' branch", branches, err)
	}

	// Re-running Init on an already-seeded project is a no-op.
	if err := Init(ctx, root); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	dbs, _ = h.ListDatabases(ctx)
	if len(dbs) != 1 {
		t.Fatalf("expected Init() to stay idempotent, got %d databases", len(dbs))
	}
}

func TestInitDatabaseEagerMaterializesEmptyTenant(t *testing.T) {
	root := t.TempDir()
	t.Cleanup(func() { _ = metadata.CloseAll() })
	ctx := context.Background()

	if err := Init(ctx, root); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := InitDatabase(ctx, root, "acme", false); err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}

	emptyPath := paths.EmptyTenantPath(root, "acme", paths.MainBranch)
	if _, err := os.Stat(emptyPath); err != nil {
		t.Fatalf("expected __empty__ tenant file: %v", err)
	}

	h, err := metadata.Acquire(ctx, root, metadata.Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = h.Release() }()

	db, err := h.GetDatabase(ctx, "acme")
	if err != nil || !db.Materialized {
		t.Fatalf("GetDatabase() = %v, %v, want materialized", db, err)
	}
}

func TestMaterializeDatabaseUpgradesLazyDatabase(t *testing.T) {
	root := t.TempDir()
	t.Cleanup(func() { _ = metadata.CloseAll() })
	ctx := context.Background()

	if err := Init(ctx, root); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := InitDatabase(ctx, root, "acme", true); err != nil {
		t.Fatalf("InitDatabase(lazy) error = %v", err)
	}

	h, err := metadata.Acquire(ctx, root, metadata.Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = h.Release() }()

	db, err := h.GetDatabase(ctx, "acme")
	if err != nil || db.Materialized {
		t.Fatalf("GetDatabase() = %v, %v, want lazy (not materialized)", db, err)
	}

	if err := MaterializeDatabase(ctx, root, "acme"); err != nil {
		t.Fatalf("MaterializeDatabase() error = %v", err)
	}

	emptyPath := paths.EmptyTenantPath(root, "acme", paths.MainBranch)
	if _, err := os.Stat(emptyPath); err != nil {
		t.Fatalf("expected __empty__ tenant file after materialize: %v", err)
	}

	db, err = h.GetDatabase(ctx, "acme")
	if err != nil || !db.Materialized {
		t.Fatalf("GetDatabase() after materialize = %v, %v, want materialized", db, err)
	}

	// Materializing an already-materialized database is a no-op.
	if err := MaterializeDatabase(ctx, root, "acme"); err != nil {
		t.Fatalf("second MaterializeDatabase() error = %v", err)
	}
}

func TestConfigDefaultsAndRoundTrip(t *testing.T) {
	root := t.TempDir()

	cfg, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("LoadConfig() on fresh project = %+v, want defaults", cfg)
	}

	cfg.PathCacheSize = 42
	if err := SaveConfig(root, cfg); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(paths.StateRoot(root), ConfigFileName)); err != nil {
		t.Fatalf("expected config.toml to exist: %v", err)
	}

	got, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() after save error = %v", err)
	}
	if got.PathCacheSize != 42 {
		t.Fatalf("LoadConfig().PathCacheSize = %d, want 42", got.PathCacheSize)
	}
}
