package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/types"
)

// CreateBranch inserts a new branch row. parentBranch is the source
// branch's name (empty for a database's initial branch). Reusing an
// archived name is allowed: an archived name may be reused.
func (s *Store) CreateBranch(ctx context.Context, exec dbExecutor, databaseID, name, parentBranch, schemaVersion string) (types.Branch, error) {
	if exec == nil {
		exec = s.db
	}
	b := types.Branch{
		ID:            uuid.NewString(),
		DatabaseID:    databaseID,
		Name:          name,
		ParentBranch:  parentBranch,
		SchemaVersion: schemaVersion,
		Metadata:      "{}",
		CreatedAt:     time.Now().UTC(),
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO branches (id, database_id, name, parent_branch, schema_version, materialized, metadata, archived_at, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, NULL, ?)`,
		b.ID, b.DatabaseID, b.Name, b.ParentBranch, b.SchemaVersion, b.Metadata, formatTime(b.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return types.Branch{}, cerrors.Of(cerrors.ErrAlreadyExists, "create branch "+name, err)
		}
		return types.Branch{}, cerrors.Wrap("create branch "+name, err)
	}
	return b, nil
}

// GetBranch looks up a non-archived branch by (databaseID, name).
func (s *Store) GetBranch(ctx context.Context, databaseID, name string) (types.Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, database_id, name, parent_branch, schema_version, materialized, metadata, archived_at, created_at
		FROM branches WHERE database_id = ? AND name = ? AND archived_at IS NULL`, databaseID, name)
	return scanBranch(row)
}

// GetBranchByID looks up a branch (archived or not) by id.
func (s *Store) GetBranchByID(ctx context.Context, id string) (types.Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, database_id, name, parent_branch, schema_version, materialized, metadata, archived_at, created_at
		FROM branches WHERE id = ?`, id)
	return scanBranch(row)
}

// ListBranches returns every non-archived branch of a database, ordered by name.
func (s *Store) ListBranches(ctx context.Context, databaseID string) ([]types.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, database_id, name, parent_branch, schema_version, materialized, metadata, archived_at, created_at
		FROM branches WHERE database_id = ? AND archived_at IS NULL ORDER BY name`, databaseID)
	if err != nil {
		return nil, cerrors.Wrap("list branches", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Branch
	for rows.Next() {
		b, err := scanBranchRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, cerrors.Wrap("iterate branches", rows.Err())
}

// SetBranchMaterialized flips a branch's materialized flag.
func (s *Store) SetBranchMaterialized(ctx context.Context, exec dbExecutor, id string, materialized bool) error {
	if exec == nil {
		exec = s.db
	}
	_, err := exec.ExecContext(ctx, `UPDATE branches SET materialized = ? WHERE id = ?`, boolToInt(materialized), id)
	return cerrors.Wrap("materialize branch", err)
}

// SetSchemaVersion stamps a branch's schema_version: a fingerprint
// updated on every applied change rather than a semver string the
// comparator depends on.
func (s *Store) SetSchemaVersion(ctx context.Context, exec dbExecutor, id, version string) error {
	if exec == nil {
		exec = s.db
	}
	_, err := exec.ExecContext(ctx, `UPDATE branches SET schema_version = ? WHERE id = ?`, version, id)
	return cerrors.Wrap("set branch schema version", err)
}

// ArchiveBranch sets archived_at=now on a branch row: the row is kept
// (for audit and name-reuse semantics) while its tenants and
// directory are removed by the caller.
func (s *Store) ArchiveBranch(ctx context.Context, exec dbExecutor, id string) error {
	if exec == nil {
		exec = s.db
	}
	res, err := exec.ExecContext(ctx, `UPDATE branches SET archived_at = ? WHERE id = ? AND archived_at IS NULL`, formatTime(time.Now().UTC()), id)
	if err != nil {
		return cerrors.Wrap("archive branch", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cerrors.Wrap("archive branch", err)
	}
	if n == 0 {
		return cerrors.Of(cerrors.ErrNotFound, "archive branch", sql.ErrNoRows)
	}
	return nil
}

func scanBranch(row *sql.Row) (types.Branch, error) {
	var b types.Branch
	var materialized int
	var archivedAt sql.NullString
	var createdAt string
	err := row.Scan(&b.ID, &b.DatabaseID, &b.Name, &b.ParentBranch, &b.SchemaVersion, &materialized, &b.Metadata, &archivedAt, &createdAt)
	if err != nil {
		return types.Branch{}, cerrors.Wrap("get branch", err)
	}
	return finishBranch(b, materialized, archivedAt, createdAt)
}

func scanBranchRows(rows *sql.Rows) (types.Branch, error) {
	var b types.Branch
	var materialized int
	var archivedAt sql.NullString
	var createdAt string
	err := rows.Scan(&b.ID, &b.DatabaseID, &b.Name, &b.ParentBranch, &b.SchemaVersion, &materialized, &b.Metadata, &archivedAt, &createdAt)
	if err != nil {
		return types.Branch{}, cerrors.Wrap("scan branch", err)
	}
	return finishBranch(b, materialized, archivedAt, createdAt)
}

func finishBranch(b types.Branch, materialized int, archivedAt sql.NullString, createdAt string) (types.Branch, error) {
	b.Materialized = materialized != 0
	if archivedAt.Valid {
		t, err := parseTime(archivedAt.String)
		if err != nil {
			return types.Branch{}, cerrors.Wrap("parse branch archived_at", err)
		}
		b.ArchivedAt = &t
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return types.Branch{}, cerrors.Wrap("parse branch created_at", err)
	}
	b.CreatedAt = t
	return b, nil
}
