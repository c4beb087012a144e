package branch

import (
	"context"
	"os"
	"testing"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/paths"
	"github.com/cinchdb/cinchdb/internal/project"
)

func TestCreateForksTenantsAndHistory(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	if err := project.Init(ctx, root); err != nil {
		t.Fatalf("project.Init() error = %v", err)
	}
	if err := project.InitDatabase(ctx, root, "acme", false); err != nil {
		t.Fatalf("project.InitDatabase() error = %v", err)
	}

	h, err := metadata.Acquire(ctx, root, metadata.Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Release(); _ = metadata.CloseAll() })

	m := New(root, "acme", h.Store)
	feature, err := m.Create(ctx, "main", "feature")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !feature.Materialized {
		t.Fatalf("expected forked branch to inherit materialized=true from source")
	}

	tenants, err := h.Store.ListTenants(ctx, feature.ID, true)
	if err != nil {
		t.Fatalf("ListTenants() error = %v", err)
	}
	names := map[string]bool{}
	for _, tn := range tenants {
		names[tn.Name] = true
	}
	if !names["main"] || !names[paths.EmptyTenant] {
		t.Fatalf("expected feature branch to carry main and __empty__ tenants, got %v", names)
	}

	if _, err := os.Stat(paths.EmptyTenantPath(root, "acme", "feature")); err != nil {
		t.Fatalf("expected forked branch's on-disk tree to be copied: %v", err)
	}
}

func TestDeleteMainRefused(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	if err := project.Init(ctx, root); err != nil {
		t.Fatalf("project.Init() error = %v", err)
	}
	h, err := metadata.Acquire(ctx, root, metadata.Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Release(); _ = metadata.CloseAll() })

	m := New(root, "main", h.Store)
	if err := m.Delete(ctx, "main"); !cerrors.Is(err, cerrors.ErrProtectedEntity) {
		t.Fatalf("Delete(main) error = %v, want ErrProtectedEntity", err)
	}
}

func TestDeleteThenRecreateArchivedName(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	if err := project.Init(ctx, root); err != nil {
		t.Fatalf("project.Init() error = %v", err)
	}
	if err := project.InitDatabase(ctx, root, "acme", false); err != nil {
		t.Fatalf("project.InitDatabase() error = %v", err)
	}
	h, err := metadata.Acquire(ctx, root, metadata.Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Release(); _ = metadata.CloseAll() })

	m := New(root, "acme", h.Store)
	first, err := m.Create(ctx, "main", "x")
	if err != nil {
		t.Fatalf("Create(x) error = %v", err)
	}
	if err := m.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete(x) error = %v", err)
	}

	branches, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for _, b := range branches {
		if b.Name == "x" {
			t.Fatalf("expected archived branch 'x' to be hidden from List()")
		}
	}

	second, err := m.Create(ctx, "main", "x")
	if err != nil {
		t.Fatalf("recreate archived branch name: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a distinct branch row for the reused name")
	}
}
