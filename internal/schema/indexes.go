package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/cinchdb/cinchdb/internal/types"
)

// autoIndexName builds idx_<table>_<col...> or, for unique indexes,
// uniq_<table>_<col...>.
func autoIndexName(table string, cols []string, unique bool) string {
	prefix := "idx"
	if unique {
		prefix = "uniq"
	}
	return prefix + "_" + table + "_" + strings.Join(cols, "_")
}

// CreateIndex emits a CREATE INDEX change. name may be empty, in which
// case one is auto-generated from table and cols.
func (m *Manager) CreateIndex(ctx context.Context, table string, cols []string, name string, unique bool) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("index on %s: at least one column is required", table)
	}
	for _, col := range cols {
		if err := m.validateColumnKnown(ctx, table, col); err != nil {
			return err
		}
	}
	if name == "" {
		name = autoIndexName(table, cols, unique)
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}

	uniqueKw := ""
	if unique {
		uniqueKw = "UNIQUE "
	}
	sqlText := fmt.Sprintf("CREATE %sINDEX %q ON %q (%s)", uniqueKw, name, table, strings.Join(quoted, ", "))
	return m.emit(ctx, types.Change{
		Type:       types.CreateIndex,
		EntityType: types.EntityIndex,
		EntityName: name,
		SQL:        sqlText,
	})
}

// DropIndex emits a DROP INDEX change.
func (m *Manager) DropIndex(ctx context.Context, name string) error {
	return m.emit(ctx, types.Change{
		Type:       types.DropIndex,
		EntityType: types.EntityIndex,
		EntityName: name,
		SQL:        fmt.Sprintf("DROP INDEX %q", name),
	})
}

// autoIndexFilter reports whether an index name should be hidden from
// a listing because SQLite created it implicitly.
func autoIndexFilter(name string) bool {
	return strings.HasPrefix(name, "sqlite_autoindex_")
}
