package change

import (
	"context"
	"testing"

	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/project"
	"github.com/cinchdb/cinchdb/internal/types"
)

func TestAppendListUnappliedMarkApplied(t *testing.T) {
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

	db, err := h.GetDatabase(ctx, "main")
	if err != nil {
		t.Fatalf("GetDatabase() error = %v", err)
	}
	branch, err := h.GetBranch(ctx, db.ID, "main")
	if err != nil {
		t.Fatalf("GetBranch() error = %v", err)
	}

	m := New(h.Store, branch.ID)
	c, err := m.Append(ctx, nil, types.Change{
		DatabaseID: db.ID,
		Type:       types.CreateTable,
		EntityType: types.EntityTable,
		EntityName: "widgets",
		SQL:        "CREATE TABLE widgets (id TEXT PRIMARY KEY)",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	unapplied, err := m.Unapplied(ctx)
	if err != nil || len(unapplied) != 1 || unapplied[0].ID != c.ID {
		t.Fatalf("Unapplied() = %v, %v", unapplied, err)
	}

	if err := m.MarkApplied(ctx, nil, c.ID); err != nil {
		t.Fatalf("MarkApplied() error = %v", err)
	}
	unapplied, err = m.Unapplied(ctx)
	if err != nil || len(unapplied) != 0 {
		t.Fatalf("Unapplied() after mark = %v, %v, want empty", unapplied, err)
	}

	list, err := m.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %v, %v", list, err)
	}
}

func TestCopyFromPreservesOrderAndAppliedState(t *testing.T) {
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

	db, _ := h.GetDatabase(ctx, "main")
	main, _ := h.GetBranch(ctx, db.ID, "main")
	mainChanges := New(h.Store, main.ID)

	c1, err := mainChanges.Append(ctx, nil, types.Change{DatabaseID: db.ID, Type: types.CreateTable, EntityType: types.EntityTable, EntityName: "widgets"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mainChanges.MarkApplied(ctx, nil, c1.ID); err != nil {
		t.Fatalf("MarkApplied() error = %v", err)
	}

	feature, err := h.CreateBranch(ctx, nil, db.ID, "feature", "main", main.SchemaVersion)
	if err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	featureChanges := New(h.Store, feature.ID)
	if err := featureChanges.CopyFrom(ctx, nil, main.ID); err != nil {
		t.Fatalf("CopyFrom() error = %v", err)
	}

	copied, err := featureChanges.List(ctx)
	if err != nil || len(copied) != 1 || copied[0].ID != c1.ID {
		t.Fatalf("List() on feature = %v, %v", copied, err)
	}
	unapplied, err := featureChanges.Unapplied(ctx)
	if err != nil || len(unapplied) != 0 {
		t.Fatalf("Unapplied() on feature = %v, %v, want copy to preserve applied=true", unapplied, err)
	}
}
