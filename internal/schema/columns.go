package schema

import (
	"context"
	"fmt"

	"github.com/cinchdb/cinchdb/internal/types"
)

// AddColumn emits an ALTER TABLE ... ADD COLUMN change. SQLite supports
// this natively as long as the column has no non-constant default and
// isn't a PRIMARY KEY.
func (m *Manager) AddColumn(ctx context.Context, table string, col types.Column) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	if err := validateColumns([]types.Column{col}); err != nil {
		return err
	}
	sqlText := fmt.Sprintf("ALTER TABLE %q ADD COLUMN %s", table, columnDDL(col))
	return m.emit(ctx, types.Change{
		Type:       types.AddColumn,
		EntityType: types.EntityColumn,
		EntityName: table + "." + col.Name,
		Details:    marshalColumns([]types.Column{col}),
		SQL:        sqlText,
	})
}

// DropColumn drops a column. SQLite's native ALTER TABLE DROP COLUMN
// (3.35+) is used directly; callers that need the shadow-table dance
// (dropping a column that participates in an index, view, or foreign
// key) should use ShadowCopyColumnChange instead, since modernc.org's
// driver surfaces the same restrictions as upstream SQLite.
func (m *Manager) DropColumn(ctx context.Context, table, name string) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	return m.emit(ctx, types.Change{
		Type:       types.DropColumn,
		EntityType: types.EntityColumn,
		EntityName: table + "." + name,
		SQL:        fmt.Sprintf("ALTER TABLE %q DROP COLUMN %q", table, name),
	})
}

// RenameColumn emits an ALTER TABLE ... RENAME COLUMN change.
func (m *Manager) RenameColumn(ctx context.Context, table, oldName, newName string) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	return m.emit(ctx, types.Change{
		Type:       types.RenameColumn,
		EntityType: types.EntityColumn,
		EntityName: table + "." + newName,
		Details:    marshalRenameColumn(oldName, newName),
		SQL:        fmt.Sprintf("ALTER TABLE %q RENAME COLUMN %q TO %q", table, oldName, newName),
	})
}

// ShadowCopyColumnChange renders the canonical shadow-table-copy dance
// (create shadow table, copy rows, drop original, rename shadow) for a
// drop or rename that native ALTER TABLE cannot express
// because the column participates in an index, view, or foreign key.
// keep lists the final column set (post-drop or post-rename) in the
// same order as the table's current schema snapshot; selectExprs is
// the matching list of source expressions to copy from the original
// table (identical to keep's names except for a rename).
func ShadowCopyColumnChange(table string, keep []types.Column, selectExprs []string, fks []types.ForeignKey) (string, error) {
	shadow := "__shadow_" + table
	defs := []string{
		`"id" TEXT PRIMARY KEY`,
		`"created_at" TEXT NOT NULL`,
		`"updated_at" TEXT NOT NULL`,
	}
	for _, c := range keep {
		defs = append(defs, columnDDL(c))
	}
	for _, fk := range fks {
		ddl, err := foreignKeyDDL(fk)
		if err != nil {
			return "", err
		}
		defs = append(defs, ddl)
	}

	cols := "\"id\", \"created_at\", \"updated_at\""
	for _, e := range selectExprs {
		cols += ", " + e
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE %q (%s)", shadow, joinDefs(defs)),
		fmt.Sprintf("INSERT INTO %q SELECT %s FROM %q", shadow, cols, table),
		fmt.Sprintf("DROP TABLE %q", table),
		fmt.Sprintf("ALTER TABLE %q RENAME TO %q", shadow, table),
	}
	out := ""
	for i, s := range stmts {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out, nil
}

func joinDefs(defs []string) string {
	out := ""
	for i, d := range defs {
		if i > 0 {
			out += ", "
		}
		out += d
	}
	return out
}
