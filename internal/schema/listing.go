package schema

import (
	"context"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/paths"
	"github.com/cinchdb/cinchdb/internal/types"
)

// referencePath returns the tenant file to read schema objects from:
// the branch's __empty__ template, which always exists once the
// branch is materialized and reflects exactly the applied-change
// sequence with no user data mixed in.
func (m *Manager) referencePath() string {
	return paths.EmptyTenantPath(m.Root, m.Database, m.Branch)
}

// ListTables returns the branch's user-facing table names, excluding
// system tables: names starting with "__" or "sqlite_" are silently
// excluded from listings.
func (m *Manager) ListTables(ctx context.Context) ([]string, error) {
	names, err := m.querySqliteMaster(ctx, "table")
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if !systemTableFilter(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// ListViews returns the branch's views, ordered by name. Each View's
// Query holds the full CREATE VIEW statement stored in sqlite_master.
func (m *Manager) ListViews(ctx context.Context) ([]types.View, error) {
	db, err := m.Conn.Open(ctx, m.referencePath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `SELECT name, sql FROM sqlite_master WHERE type = 'view' ORDER BY name`)
	if err != nil {
		return nil, cerrors.Wrap("list views", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.View
	for rows.Next() {
		var v types.View
		if err := rows.Scan(&v.Name, &v.Query); err != nil {
			return nil, cerrors.Wrap("scan view", err)
		}
		out = append(out, v)
	}
	return out, cerrors.Wrap("iterate views", rows.Err())
}

// ListIndexes returns the branch's user-created indexes, excluding
// SQLite's own auto-indexes.
func (m *Manager) ListIndexes(ctx context.Context) ([]types.Index, error) {
	db, err := m.Conn.Open(ctx, m.referencePath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `SELECT name, tbl_name, sql FROM sqlite_master WHERE type = 'index' ORDER BY name`)
	if err != nil {
		return nil, cerrors.Wrap("list indexes", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Index
	for rows.Next() {
		var name, table, sqlText string
		if err := rows.Scan(&name, &table, &sqlText); err != nil {
			return nil, cerrors.Wrap("scan index", err)
		}
		if autoIndexFilter(name) {
			continue
		}
		out = append(out, types.Index{Name: name, Table: table})
	}
	return out, cerrors.Wrap("iterate indexes", rows.Err())
}

func (m *Manager) querySqliteMaster(ctx context.Context, objType string) ([]string, error) {
	db, err := m.Conn.Open(ctx, m.referencePath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = ? ORDER BY name`, objType)
	if err != nil {
		return nil, cerrors.Wrap("query sqlite_master", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, cerrors.Wrap("scan sqlite_master row", err)
		}
		out = append(out, name)
	}
	return out, cerrors.Wrap("iterate sqlite_master", rows.Err())
}
