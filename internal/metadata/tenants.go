package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/paths"
	"github.com/cinchdb/cinchdb/internal/types"
)

// CreateTenant inserts a tenant row. materialized tells callers whether
// the tenant already has a file on disk; a lazy tenant has
// none until the tenant lifecycle materializes it.
func (s *Store) CreateTenant(ctx context.Context, exec dbExecutor, branchID, name string, materialized bool) (types.Tenant, error) {
	if exec == nil {
		exec = s.db
	}
	t := types.Tenant{
		ID:           uuid.NewString(),
		BranchID:     branchID,
		Name:         name,
		Shard:        paths.Shard(name),
		Materialized: materialized,
		Metadata:     "{}",
		CreatedAt:    time.Now().UTC(),
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO tenants (id, branch_id, name, shard, materialized, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BranchID, t.Name, t.Shard, boolToInt(t.Materialized), t.Metadata, formatTime(t.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return types.Tenant{}, cerrors.Of(cerrors.ErrAlreadyExists, "create tenant "+name, err)
		}
		return types.Tenant{}, cerrors.Wrap("create tenant "+name, err)
	}
	return t, nil
}

// GetTenant looks up a tenant by (branchID, name).
func (s *Store) GetTenant(ctx context.Context, branchID, name string) (types.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, name, shard, materialized, metadata, created_at
		FROM tenants WHERE branch_id = ? AND name = ?`, branchID, name)
	return scanTenant(row)
}

// ListTenants returns every tenant of a branch, optionally including
// __empty__ (listings hide it by default).
func (s *Store) ListTenants(ctx context.Context, branchID string, includeEmpty bool) ([]types.Tenant, error) {
	query := `SELECT id, branch_id, name, shard, materialized, metadata, created_at FROM tenants WHERE branch_id = ?`
	if !includeEmpty {
		query += ` AND name != '` + paths.EmptyTenant + `'`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, branchID)
	if err != nil {
		return nil, cerrors.Wrap("list tenants", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Tenant
	for rows.Next() {
		t, err := scanTenantRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, cerrors.Wrap("iterate tenants", rows.Err())
}

// ListMaterializedTenants returns every materialized tenant of a
// branch, including __empty__ — exactly the fan-out set the change
// applier must update when a change is applied.
func (s *Store) ListMaterializedTenants(ctx context.Context, branchID string) ([]types.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, name, shard, materialized, metadata, created_at
		FROM tenants WHERE branch_id = ? AND materialized = 1 ORDER BY name`, branchID)
	if err != nil {
		return nil, cerrors.Wrap("list materialized tenants", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Tenant
	for rows.Next() {
		t, err := scanTenantRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, cerrors.Wrap("iterate materialized tenants", rows.Err())
}

// SetTenantMaterialized flips a tenant's materialized flag: a lazy
// tenant's first write materializes it.
func (s *Store) SetTenantMaterialized(ctx context.Context, exec dbExecutor, id string, materialized bool) error {
	if exec == nil {
		exec = s.db
	}
	_, err := exec.ExecContext(ctx, `UPDATE tenants SET materialized = ? WHERE id = ?`, boolToInt(materialized), id)
	return cerrors.Wrap("materialize tenant", err)
}

// RenameTenant updates a tenant's name and recomputed shard.
func (s *Store) RenameTenant(ctx context.Context, id, newName string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tenants SET name = ?, shard = ? WHERE id = ?`, newName, paths.Shard(newName), id)
	if isUniqueViolation(err) {
		return cerrors.Of(cerrors.ErrAlreadyExists, "rename tenant", err)
	}
	return cerrors.Wrap("rename tenant", err)
}

// DeleteTenant removes a tenant row.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return cerrors.Wrap("delete tenant", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cerrors.Wrap("delete tenant", err)
	}
	if n == 0 {
		return cerrors.Of(cerrors.ErrNotFound, "delete tenant", sql.ErrNoRows)
	}
	return nil
}

func scanTenant(row *sql.Row) (types.Tenant, error) {
	var t types.Tenant
	var materialized int
	var createdAt string
	err := row.Scan(&t.ID, &t.BranchID, &t.Name, &t.Shard, &materialized, &t.Metadata, &createdAt)
	if err != nil {
		return types.Tenant{}, cerrors.Wrap("get tenant", err)
	}
	return finishTenant(t, materialized, createdAt)
}

func scanTenantRows(rows *sql.Rows) (types.Tenant, error) {
	var t types.Tenant
	var materialized int
	var createdAt string
	err := rows.Scan(&t.ID, &t.BranchID, &t.Name, &t.Shard, &materialized, &t.Metadata, &createdAt)
	if err != nil {
		return types.Tenant{}, cerrors.Wrap("scan tenant", err)
	}
	return finishTenant(t, materialized, createdAt)
}

func finishTenant(t types.Tenant, materialized int, createdAt string) (types.Tenant, error) {
	t.Materialized = materialized != 0
	parsed, err := parseTime(createdAt)
	if err != nil {
		return types.Tenant{}, cerrors.Wrap("parse tenant created_at", err)
	}
	t.CreatedAt = parsed
	return t, nil
}
