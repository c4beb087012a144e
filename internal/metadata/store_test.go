package metadata

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := open(context.Background(), filepath.Join(t.TempDir(), "metadata.db"), Options{})
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDatabaseCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	db, err := s.CreateDatabase(ctx, "acme", false)
	if err != nil {
		t.Fatalf("CreateDatabase() error = %v", err)
	}
	if _, err := s.CreateDatabase(ctx, "acme", false); !cerrors.Is(err, cerrors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.GetDatabase(ctx, "acme")
	if err != nil {
		t.Fatalf("GetDatabase() error = %v", err)
	}
	if got.ID != db.ID {
		t.Fatalf("GetDatabase() id = %q, want %q", got.ID, db.ID)
	}

	if err := s.SetDatabaseMaterialized(ctx, db.ID, true); err != nil {
		t.Fatalf("SetDatabaseMaterialized() error = %v", err)
	}
	got, _ = s.GetDatabase(ctx, "acme")
	if !got.Materialized {
		t.Fatalf("expected database materialized")
	}

	list, err := s.ListDatabases(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDatabases() = %v, %v", list, err)
	}

	if err := s.DeleteDatabase(ctx, db.ID); err != nil {
		t.Fatalf("DeleteDatabase() error = %v", err)
	}
	if _, err := s.GetDatabase(ctx, "acme"); !cerrors.Is(err, cerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBranchLifecycleAndArchivedNameReuse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	db, _ := s.CreateDatabase(ctx, "acme", true)
	main, err := s.CreateBranch(ctx, nil, db.ID, "main", "", "")
	if err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}

	feature, err := s.CreateBranch(ctx, nil, db.ID, "feature", "main", main.SchemaVersion)
	if err != nil {
		t.Fatalf("CreateBranch(feature) error = %v", err)
	}

	branches, err := s.ListBranches(ctx, db.ID)
	if err != nil || len(branches) != 2 {
		t.Fatalf("ListBranches() = %v, %v", branches, err)
	}

	if err := s.ArchiveBranch(ctx, nil, feature.ID); err != nil {
		t.Fatalf("ArchiveBranch() error = %v", err)
	}
	if _, err := s.GetBranch(ctx, db.ID, "feature"); !cerrors.Is(err, cerrors.ErrNotFound) {
		t.Fatalf("expected archived branch hidden from GetBranch, got %v", err)
	}

	// Archived name must be reusable.
	reborn, err := s.CreateBranch(ctx, nil, db.ID, "feature", "main", main.SchemaVersion)
	if err != nil {
		t.Fatalf("recreate archived branch name: %v", err)
	}
	if reborn.ID == feature.ID {
		t.Fatalf("expected a distinct branch row for the reused name")
	}
}

func TestTenantCRUDAndShard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	db, _ := s.CreateDatabase(ctx, "acme", true)
	branch, _ := s.CreateBranch(ctx, nil, db.ID, "main", "", "")

	tenant, err := s.CreateTenant(ctx, nil, branch.ID, "customer-1", true)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	if tenant.Shard == "" {
		t.Fatalf("expected non-empty shard")
	}

	lazy, err := s.CreateTenant(ctx, nil, branch.ID, "customer-2", false)
	if err != nil {
		t.Fatalf("CreateTenant(lazy) error = %v", err)
	}
	if lazy.Materialized {
		t.Fatalf("expected lazy tenant to start unmaterialized")
	}

	if err := s.SetTenantMaterialized(ctx, nil, lazy.ID, true); err != nil {
		t.Fatalf("SetTenantMaterialized() error = %v", err)
	}
	mats, err := s.ListMaterializedTenants(ctx, branch.ID)
	if err != nil || len(mats) != 2 {
		t.Fatalf("ListMaterializedTenants() = %v, %v", mats, err)
	}

	if err := s.RenameTenant(ctx, tenant.ID, "customer-1-renamed"); err != nil {
		t.Fatalf("RenameTenant() error = %v", err)
	}
	got, err := s.GetTenant(ctx, branch.ID, "customer-1-renamed")
	if err != nil {
		t.Fatalf("GetTenant() after rename error = %v", err)
	}
	if got.ID != tenant.ID {
		t.Fatalf("GetTenant() after rename id mismatch")
	}

	if err := s.DeleteTenant(ctx, lazy.ID); err != nil {
		t.Fatalf("DeleteTenant() error = %v", err)
	}
	if err := s.DeleteTenant(ctx, lazy.ID); !cerrors.Is(err, cerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestChangeAppendApplyAndCopyHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	db, _ := s.CreateDatabase(ctx, "acme", true)
	main, _ := s.CreateBranch(ctx, nil, db.ID, "main", "", "")

	c1, err := s.AppendChange(ctx, nil, types.Change{
		DatabaseID:     db.ID,
		OriginBranchID: main.ID,
		Type:           types.CreateTable,
		EntityType:     types.EntityTable,
		EntityName:     "widgets",
		SQL:            "CREATE TABLE widgets (id TEXT PRIMARY KEY)",
	})
	if err != nil {
		t.Fatalf("AppendChange() error = %v", err)
	}
	c2, err := s.AppendChange(ctx, nil, types.Change{
		DatabaseID:     db.ID,
		OriginBranchID: main.ID,
		Type:           types.AddColumn,
		EntityType:     types.EntityColumn,
		EntityName:     "widgets.name",
		SQL:            "ALTER TABLE widgets ADD COLUMN name TEXT",
	})
	if err != nil {
		t.Fatalf("AppendChange() error = %v", err)
	}

	unapplied, err := s.UnappliedChanges(ctx, main.ID)
	if err != nil || len(unapplied) != 2 {
		t.Fatalf("UnappliedChanges() = %v, %v", unapplied, err)
	}
	if unapplied[0].ID != c1.ID || unapplied[1].ID != c2.ID {
		t.Fatalf("UnappliedChanges() out of order")
	}

	if err := s.MarkApplied(ctx, nil, main.ID, c1.ID); err != nil {
		t.Fatalf("MarkApplied() error = %v", err)
	}
	unapplied, _ = s.UnappliedChanges(ctx, main.ID)
	if len(unapplied) != 1 || unapplied[0].ID != c2.ID {
		t.Fatalf("expected only c2 unapplied, got %v", unapplied)
	}

	order, err := s.HighestAppliedOrder(ctx, main.ID)
	if err != nil || order != 1 {
		t.Fatalf("HighestAppliedOrder() = %d, %v, want 1", order, err)
	}

	feature, _ := s.CreateBranch(ctx, nil, db.ID, "feature", "main", main.SchemaVersion)
	if err := s.CopyChangeHistory(ctx, nil, main.ID, feature.ID); err != nil {
		t.Fatalf("CopyChangeHistory() error = %v", err)
	}
	copied, err := s.ListChanges(ctx, feature.ID)
	if err != nil || len(copied) != 2 {
		t.Fatalf("ListChanges(feature) = %v, %v", copied, err)
	}
}

func TestMaintenanceLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	db, _ := s.CreateDatabase(ctx, "acme", true)
	branch, _ := s.CreateBranch(ctx, nil, db.ID, "main", "", "")

	if in, err := s.InMaintenance(ctx, branch.ID); err != nil || in {
		t.Fatalf("InMaintenance() = %v, %v, want false", in, err)
	}

	if err := s.AcquireMaintenance(ctx, nil, branch.ID, "applying changes"); err != nil {
		t.Fatalf("AcquireMaintenance() error = %v", err)
	}
	if err := s.AcquireMaintenance(ctx, nil, branch.ID, "applying changes"); !cerrors.Is(err, cerrors.ErrMaintenanceInProgress) {
		t.Fatalf("expected ErrMaintenanceInProgress, got %v", err)
	}

	marker, err := s.GetMaintenance(ctx, branch.ID)
	if err != nil || marker.Reason != "applying changes" {
		t.Fatalf("GetMaintenance() = %v, %v", marker, err)
	}

	if err := s.ReleaseMaintenance(ctx, nil, branch.ID); err != nil {
		t.Fatalf("ReleaseMaintenance() error = %v", err)
	}
	if in, err := s.InMaintenance(ctx, branch.ID); err != nil || in {
		t.Fatalf("InMaintenance() after release = %v, %v, want false", in, err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateDatabase(ctx, "rolled-back", false); err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}

	wantErr := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE databases SET description = 'x' WHERE name = 'rolled-back'`); err != nil {
			t.Fatalf("unexpected tx exec error: %v", err)
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx() error = %v, want %v", err, wantErr)
	}

	got, err := s.GetDatabase(ctx, "rolled-back")
	if err != nil || got.Description != "" {
		t.Fatalf("GetDatabase() after rollback = %+v, %v, want description unchanged", got, err)
	}
}
