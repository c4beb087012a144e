package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/types"
)

// CreateDatabase inserts a new database row. materialized controls
// whether the row is marked as having on-disk directories (the
// project initializer / tenant lifecycle create the actual tree).
func (s *Store) CreateDatabase(ctx context.Context, name string, materialized bool) (types.Database, error) {
	db := types.Database{
		ID:           uuid.NewString(),
		Name:         name,
		Metadata:     "{}",
		Materialized: materialized,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO databases (id, name, description, metadata, materialized, created_at)
		VALUES (?, ?, '', ?, ?, ?)`,
		db.ID, db.Name, db.Metadata, boolToInt(db.Materialized), formatTime(db.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return types.Database{}, cerrors.Of(cerrors.ErrAlreadyExists, "create database "+name, err)
		}
		return types.Database{}, cerrors.Wrap("create database "+name, err)
	}
	return db, nil
}

// GetDatabase looks up a database by name.
func (s *Store) GetDatabase(ctx context.Context, name string) (types.Database, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, metadata, materialized, created_at
		FROM databases WHERE name = ?`, name)
	return scanDatabase(row)
}

// SetDatabaseMaterialized flips a database's materialized flag, once
// its on-disk tree has been created by the tenant lifecycle.
func (s *Store) SetDatabaseMaterialized(ctx context.Context, id string, materialized bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE databases SET materialized = ? WHERE id = ?`, boolToInt(materialized), id)
	return cerrors.Wrap("materialize database", err)
}

// ListDatabases returns every database, ordered by name.
func (s *Store) ListDatabases(ctx context.Context) ([]types.Database, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, metadata, materialized, created_at
		FROM databases ORDER BY name`)
	if err != nil {
		return nil, cerrors.Wrap("list databases", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Database
	for rows.Next() {
		db, err := scanDatabaseRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, db)
	}
	return out, cerrors.Wrap("iterate databases", rows.Err())
}

// DeleteDatabase removes a database row; ON DELETE CASCADE removes its
// branches, tenants, changes, and links.
func (s *Store) DeleteDatabase(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM databases WHERE id = ?`, id)
	if err != nil {
		return cerrors.Wrap("delete database", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cerrors.Wrap("delete database", err)
	}
	if n == 0 {
		return cerrors.Of(cerrors.ErrNotFound, "delete database", sql.ErrNoRows)
	}
	return nil
}

func scanDatabase(row *sql.Row) (types.Database, error) {
	var db types.Database
	var materialized int
	var createdAt string
	err := row.Scan(&db.ID, &db.Name, &db.Description, &db.Metadata, &materialized, &createdAt)
	if err != nil {
		return types.Database{}, cerrors.Wrap("get database", err)
	}
	db.Materialized = materialized != 0
	db.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return types.Database{}, cerrors.Wrap("get database", err)
	}
	return db, nil
}

func scanDatabaseRows(rows *sql.Rows) (types.Database, error) {
	var db types.Database
	var materialized int
	var createdAt string
	if err := rows.Scan(&db.ID, &db.Name, &db.Description, &db.Metadata, &materialized, &createdAt); err != nil {
		return types.Database{}, cerrors.Wrap("scan database", err)
	}
	db.Materialized = materialized != 0
	t, err := parseTime(createdAt)
	if err != nil {
		return types.Database{}, cerrors.Wrap("scan database", err)
	}
	db.CreatedAt = t
	return db, nil
}
