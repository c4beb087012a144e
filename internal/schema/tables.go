package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/cinchdb/cinchdb/internal/types"
)

// CreateTable validates name and columns, then emits a CREATE TABLE
// change carrying the implicit id/created_at/updated_at columns plus
// every user-supplied column and foreign key. Each foreign key must
// reference a table and column already present in the branch's
// schema; the implicit id/created_at/updated_at columns count as
// present on every table.
func (m *Manager) CreateTable(ctx context.Context, name string, cols []types.Column, fks []types.ForeignKey) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	if err := validateColumns(cols); err != nil {
		return err
	}
	if len(fks) > 0 {
		if err := m.validateForeignKeys(ctx, cols, fks); err != nil {
			return err
		}
	}

	defs := []string{
		`"id" TEXT PRIMARY KEY`,
		`"created_at" TEXT NOT NULL`,
		`"updated_at" TEXT NOT NULL`,
	}
	for _, c := range cols {
		defs = append(defs, columnDDL(c))
	}
	for _, fk := range fks {
		ddl, err := foreignKeyDDL(fk)
		if err != nil {
			return err
		}
		defs = append(defs, ddl)
	}

	sqlText := fmt.Sprintf("CREATE TABLE %q (%s)", name, strings.Join(defs, ", "))
	return m.emit(ctx, types.Change{
		Type:       types.CreateTable,
		EntityType: types.EntityTable,
		EntityName: name,
		Details:    marshalColumns(cols),
		SQL:        sqlText,
	})
}

// DropTable emits a DROP TABLE change. System tables may not be dropped.
func (m *Manager) DropTable(ctx context.Context, name string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	return m.emit(ctx, types.Change{
		Type:       types.DropTable,
		EntityType: types.EntityTable,
		EntityName: name,
		SQL:        fmt.Sprintf("DROP TABLE %q", name),
	})
}

// CopyTable copies src's structure (and, if includeData, its rows)
// into dst via CREATE TABLE ... AS SELECT, emitted as a single
// change.
func (m *Manager) CopyTable(ctx context.Context, src, dst string, includeData bool) error {
	if err := validateTableName(src); err != nil {
		return err
	}
	if err := validateTableName(dst); err != nil {
		return err
	}

	var sqlText string
	if includeData {
		sqlText = fmt.Sprintf("CREATE TABLE %q AS SELECT * FROM %q", dst, src)
	} else {
		sqlText = fmt.Sprintf("CREATE TABLE %q AS SELECT * FROM %q WHERE 0", dst, src)
	}
	return m.emit(ctx, types.Change{
		Type:       types.CreateTable,
		EntityType: types.EntityTable,
		EntityName: dst,
		Details:    fmt.Sprintf(`{"copied_from":%q,"include_data":%v}`, src, includeData),
		SQL:        sqlText,
	})
}

// systemTableFilter reports whether name should be hidden from a
// user-facing table listing.
func systemTableFilter(name string) bool {
	return strings.HasPrefix(name, "__") || strings.HasPrefix(name, "sqlite_")
}
