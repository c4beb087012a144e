package merge

import (
	"context"
	"testing"

	"github.com/cinchdb/cinchdb/internal/branch"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/project"
	"github.com/cinchdb/cinchdb/internal/schema"
)

func setupForkedDatabase(t *testing.T) (string, *metadata.Handle) {
	t.Helper()
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
	return root, h
}

func mustSchema(t *testing.T, root string, h *metadata.Handle, branchName string) *schema.Manager {
	t.Helper()
	ctx := context.Background()
	db, err := h.GetDatabase(ctx, "acme")
	if err != nil {
		t.Fatalf("GetDatabase() error = %v", err)
	}
	b, err := h.GetBranch(ctx, db.ID, branchName)
	if err != nil {
		t.Fatalf("GetBranch(%s) error = %v", branchName, err)
	}
	return schema.New(root, "acme", branchName, h.Store, b.ID)
}

func TestForkAndDivergeFastForward(t *testing.T) {
	root, h := setupForkedDatabase(t)
	ctx := context.Background()

	mainSchema := mustSchema(t, root, h, "main")
	if err := mainSchema.CreateTable(ctx, "users", nil, nil); err != nil {
		t.Fatalf("CreateTable(users) error = %v", err)
	}

	bm := branch.New(root, "acme", h.Store)
	if _, err := bm.Create(ctx, "main", "feat"); err != nil {
		t.Fatalf("branch.Create() error = %v", err)
	}
	featSchema := mustSchema(t, root, h, "feat")
	if err := featSchema.CreateTable(ctx, "posts", nil, nil); err != nil {
		t.Fatalf("CreateTable(posts) error = %v", err)
	}

	cmp := New(root, "acme", h.Store)
	srcOnly, dstOnly, err := cmp.Divergent(ctx, "feat", "main")
	if err != nil {
		t.Fatalf("Divergent() error = %v", err)
	}
	if len(srcOnly) != 1 || srcOnly[0].EntityName != "posts" {
		t.Fatalf("srcOnly = %+v, want one change for posts", srcOnly)
	}
	if len(dstOnly) != 0 {
		t.Fatalf("dstOnly = %+v, want empty", dstOnly)
	}

	ff, err := cmp.CanFastForward(ctx, "feat", "main")
	if err != nil {
		t.Fatalf("CanFastForward() error = %v", err)
	}
	if !ff {
		t.Fatalf("CanFastForward() = false, want true")
	}

	plan, err := cmp.Merge(ctx, "feat", "main", false, false)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(plan.Changes) != 1 {
		t.Fatalf("plan.Changes = %+v, want 1 entry", plan.Changes)
	}

	mainHist, err := mustSchema(t, root, h, "main").Changes.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	names := map[string]bool{}
	for _, c := range mainHist {
		names[c.EntityName] = true
	}
	if !names["users"] || !names["posts"] {
		t.Fatalf("main history = %+v, want users and posts", mainHist)
	}
}

func TestDetectConflicts(t *testing.T) {
	root, h := setupForkedDatabase(t)
	ctx := context.Background()

	bm := branch.New(root, "acme", h.Store)
	if _, err := bm.Create(ctx, "main", "f1"); err != nil {
		t.Fatalf("branch.Create(f1) error = %v", err)
	}
	if _, err := bm.Create(ctx, "main", "f2"); err != nil {
		t.Fatalf("branch.Create(f2) error = %v", err)
	}

	f1Schema := mustSchema(t, root, h, "f1")
	if err := f1Schema.CreateTable(ctx, "users", nil, nil); err != nil {
		t.Fatalf("CreateTable(f1/users) error = %v", err)
	}
	f2Schema := mustSchema(t, root, h, "f2")
	if err := f2Schema.CreateTable(ctx, "users", nil, nil); err != nil {
		t.Fatalf("CreateTable(f2/users) error = %v", err)
	}

	cmp := New(root, "acme", h.Store)
	conflicts, err := cmp.DetectConflicts(ctx, "f1", "f2")
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Entity != "users" {
		t.Fatalf("conflicts = %+v, want one entry for users", conflicts)
	}

	if _, err := cmp.Merge(ctx, "f1", "f2", false, false); err == nil {
		t.Fatalf("Merge() with conflicts succeeded, want error")
	}
}

func TestMergeIntoMainRefusesNonFastForwardWithoutForce(t *testing.T) {
	root, h := setupForkedDatabase(t)
	ctx := context.Background()

	mainSchema := mustSchema(t, root, h, "main")
	if err := mainSchema.CreateTable(ctx, "users", nil, nil); err != nil {
		t.Fatalf("CreateTable(main/users) error = %v", err)
	}

	bm := branch.New(root, "acme", h.Store)
	if _, err := bm.Create(ctx, "main", "feat"); err != nil {
		t.Fatalf("branch.Create() error = %v", err)
	}

	// Diverge both sides from their common point.
	if err := mainSchema.CreateTable(ctx, "accounts", nil, nil); err != nil {
		t.Fatalf("CreateTable(main/accounts) error = %v", err)
	}
	featSchema := mustSchema(t, root, h, "feat")
	if err := featSchema.CreateTable(ctx, "posts", nil, nil); err != nil {
		t.Fatalf("CreateTable(feat/posts) error = %v", err)
	}

	cmp := New(root, "acme", h.Store)
	if _, err := cmp.MergeIntoMain(ctx, "feat"); err == nil {
		t.Fatalf("MergeIntoMain() succeeded on non-fast-forward, want refusal")
	}
}
