package cinchdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/cinchdb/cinchdb/internal/sqlexec"
)

// Query runs an arbitrary SELECT against (database, branchName,
// tenantName) through the safe executor's read path, which uses the
// branch's __empty__ template for a lazy tenant. maskColumns
// names result columns whose non-null values are replaced with
// sqlexec.RedactionSentinel.
func (e *Engine) Query(ctx context.Context, database, branchName, tenantName, query string, args []any, maskColumns []string) (sqlexec.Result, error) {
	path, err := e.Tenants(database, branchName).GetPathForRead(ctx, tenantName)
	if err != nil {
		return sqlexec.Result{}, err
	}
	db, err := e.conn.Open(ctx, path)
	if err != nil {
		return sqlexec.Result{}, err
	}
	defer func() { _ = db.Close() }()
	return sqlexec.Execute(ctx, db, query, args, sqlexec.Options{MaskColumns: maskColumns})
}

// write opens tenantName's write path (materializing a lazy tenant
// first) and runs stmt through the safe executor.
func (e *Engine) write(ctx context.Context, database, branchName, tenantName, stmt string, args []any) (sqlexec.Result, error) {
	path, err := e.Tenants(database, branchName).GetPathForWrite(ctx, tenantName)
	if err != nil {
		return sqlexec.Result{}, err
	}
	db, err := e.conn.Open(ctx, path)
	if err != nil {
		return sqlexec.Result{}, err
	}
	defer func() { _ = db.Close() }()
	return sqlexec.Execute(ctx, db, stmt, args, sqlexec.Options{})
}

// Insert builds and runs a single-row INSERT against table, using
// values' keys as column names.
func (e *Engine) Insert(ctx context.Context, database, branchName, tenantName, table string, values map[string]any) (sqlexec.Result, error) {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = values[col]
		cols[i] = fmt.Sprintf("%q", col)
	}
	stmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return e.write(ctx, database, branchName, tenantName, stmt, args)
}

// Update sets values on the single row of table whose id column matches
// id.
func (e *Engine) Update(ctx context.Context, database, branchName, tenantName, table, id string, values map[string]any) (sqlexec.Result, error) {
	return e.UpdateWhere(ctx, database, branchName, tenantName, table, values, `"id" = ?`, []any{id})
}

// Delete removes the single row of table whose id column matches id.
func (e *Engine) Delete(ctx context.Context, database, branchName, tenantName, table, id string) (sqlexec.Result, error) {
	return e.DeleteWhere(ctx, database, branchName, tenantName, table, `"id" = ?`, []any{id})
}

// UpdateWhere sets values on every row of table matching where
// (appended verbatim, e.g. `"status" = ?`), with whereArgs bound after
// values' own placeholders.
func (e *Engine) UpdateWhere(ctx context.Context, database, branchName, tenantName, table string, values map[string]any, where string, whereArgs []any) (sqlexec.Result, error) {
	sets := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+len(whereArgs))
	for col, v := range values {
		sets = append(sets, fmt.Sprintf("%q = ?", col))
		args = append(args, v)
	}
	args = append(args, whereArgs...)
	stmt := fmt.Sprintf("UPDATE %q SET %s WHERE %s", table, strings.Join(sets, ", "), where)
	return e.write(ctx, database, branchName, tenantName, stmt, args)
}

// DeleteWhere removes every row of table matching where, bound to
// whereArgs.
func (e *Engine) DeleteWhere(ctx context.Context, database, branchName, tenantName, table, where string, whereArgs []any) (sqlexec.Result, error) {
	stmt := fmt.Sprintf("DELETE FROM %q WHERE %s", table, where)
	return e.write(ctx, database, branchName, tenantName, stmt, whereArgs)
}
