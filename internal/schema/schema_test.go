package schema

import (
	"context"
	"testing"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/project"
	"github.com/cinchdb/cinchdb/internal/types"
)

func newTestManager(t *testing.T) (*Manager, context.Context) {
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

	db, err := h.GetDatabase(ctx, "acme")
	if err != nil {
		t.Fatalf("GetDatabase() error = %v", err)
	}
	branch, err := h.GetBranch(ctx, db.ID, "main")
	if err != nil {
		t.Fatalf("GetBranch() error = %v", err)
	}
	return New(root, "acme", "main", h.Store, branch.ID), ctx
}

func TestCreateTableRejectsReservedName(t *testing.T) {
	m, ctx := newTestManager(t)
	err := m.CreateTable(ctx, "__internal", nil, nil)
	if !cerrors.Is(err, cerrors.ErrInvalidName) {
		t.Fatalf("CreateTable(__internal) error = %v, want ErrInvalidName", err)
	}
}

func TestCreateTableRejectsImplicitColumn(t *testing.T) {
	m, ctx := newTestManager(t)
	err := m.CreateTable(ctx, "widgets", []types.Column{{Name: "created_at", Type: "TEXT"}}, nil)
	if !cerrors.Is(err, cerrors.ErrInvalidName) {
		t.Fatalf("CreateTable() with implicit column error = %v, want ErrInvalidName", err)
	}
}

func TestSnapshotTracksCreateAndAddColumn(t *testing.T) {
	m, ctx := newTestManager(t)
	if err := m.CreateTable(ctx, "users", []types.Column{{Name: "name", Type: "TEXT"}}, nil); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	if err := m.AddColumn(ctx, "users", types.Column{Name: "email", Type: "TEXT"}); err != nil {
		t.Fatalf("AddColumn() error = %v", err)
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	ts, ok := snap["users"]
	if !ok {
		t.Fatalf("Snapshot() missing users table")
	}
	names := map[string]bool{}
	for _, c := range ts.Columns {
		names[c.Name] = true
	}
	for _, want := range []string{"id", "created_at", "updated_at", "name", "email"} {
		if !names[want] {
			t.Fatalf("Snapshot()[users] columns = %+v, missing %s", ts.Columns, want)
		}
	}

	exists, err := m.ColumnExists(ctx, "users", "email")
	if err != nil || !exists {
		t.Fatalf("ColumnExists(users, email) = %v, %v, want true, nil", exists, err)
	}
}

func TestCreateIndexRejectsUnknownColumn(t *testing.T) {
	m, ctx := newTestManager(t)
	if err := m.CreateTable(ctx, "users", []types.Column{{Name: "name", Type: "TEXT"}}, nil); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	err := m.CreateIndex(ctx, "users", []string{"nonexistent"}, "", false)
	if !cerrors.Is(err, cerrors.ErrSchemaError) {
		t.Fatalf("CreateIndex() on unknown column error = %v, want ErrSchemaError", err)
	}
}

func TestListTablesExcludesSystemTables(t *testing.T) {
	m, ctx := newTestManager(t)
	if err := m.CreateTable(ctx, "users", nil, nil); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}

	tables, err := m.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	found := false
	for _, tn := range tables {
		if tn == "users" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListTables() = %v, want to include users", tables)
	}
}

func TestCreateIndexAndListIndexes(t *testing.T) {
	m, ctx := newTestManager(t)
	if err := m.CreateTable(ctx, "users", []types.Column{{Name: "email", Type: "TEXT"}}, nil); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	if err := m.CreateIndex(ctx, "users", []string{"email"}, "", true); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}

	indexes, err := m.ListIndexes(ctx)
	if err != nil {
		t.Fatalf("ListIndexes() error = %v", err)
	}
	found := false
	for _, idx := range indexes {
		if idx.Name == "uniq_users_email" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListIndexes() = %+v, want uniq_users_email", indexes)
	}
}
