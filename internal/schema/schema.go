// Package schema implements the schema operations: small managers
// over tables, columns, views, and indexes that validate their
// inputs, emit a single Change through the change tracker, and invoke
// the applier to fan the resulting DDL out to every materialized
// tenant. A validate-then-mutate manager shape, generalized to
// arbitrary user-defined table schemas.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/cinchdb/cinchdb/internal/applier"
	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/change"
	"github.com/cinchdb/cinchdb/internal/connfactory"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/types"
)

// implicitColumns are added to every table and forbidden in
// user-supplied column lists.
var implicitColumns = []string{"id", "created_at", "updated_at"}

// Manager operates on one branch's schema.
type Manager struct {
	Root     string
	Database string
	Branch   string
	Store    *metadata.Store
	Changes  *change.Manager
	Applier  *applier.Applier
	Conn     *connfactory.Factory
}

// New returns a schema Manager bound to root's database/branch.
func New(root, database, branch string, store *metadata.Store, branchID string) *Manager {
	return &Manager{
		Root:     root,
		Database: database,
		Branch:   branch,
		Store:    store,
		Changes:  change.New(store, branchID),
		Applier:  applier.New(root, database, branch, store, nil),
		Conn:     connfactory.New(),
	}
}

func validateTableName(name string) error {
	if strings.HasPrefix(name, "__") || strings.HasPrefix(name, "sqlite_") {
		return cerrors.Of(cerrors.ErrInvalidName, "table name "+name+" is reserved", nil)
	}
	if name == "" {
		return cerrors.Of(cerrors.ErrInvalidName, "table name must not be empty", nil)
	}
	return nil
}

func validateColumns(cols []types.Column) error {
	seen := map[string]bool{}
	for _, c := range cols {
		for _, forbidden := range implicitColumns {
			if c.Name == forbidden {
				return cerrors.Of(cerrors.ErrInvalidName, "column "+c.Name+" is implicit and may not be user-supplied", nil)
			}
		}
		if seen[c.Name] {
			return cerrors.Of(cerrors.ErrInvalidName, "duplicate column "+c.Name, nil)
		}
		seen[c.Name] = true
	}
	return nil
}

// columnDDL renders one column's declaration, translating the BOOLEAN
// alias into an INTEGER with a CHECK constraint so it can be
// re-detected as boolean on schema reflection.
func columnDDL(c types.Column) string {
	colType := strings.ToUpper(c.Type)
	var b strings.Builder
	fmt.Fprintf(&b, "%q ", c.Name)
	if colType == "BOOLEAN" {
		b.WriteString("INTEGER")
	} else {
		b.WriteString(colType)
	}
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT " + c.Default)
	}
	if colType == "BOOLEAN" {
		fmt.Fprintf(&b, " CHECK (%q IN (0,1))", c.Name)
	}
	return b.String()
}

func foreignKeyDDL(fk types.ForeignKey) (string, error) {
	if fk.RefTable == "" {
		return "", cerrors.Of(cerrors.ErrSchemaError, "foreign key missing referenced table", nil)
	}
	refCol := fk.RefColumn
	if refCol == "" {
		refCol = "id"
	}
	onDelete := strings.ToUpper(fk.OnDelete)
	switch onDelete {
	case "", "CASCADE", "SET NULL", "RESTRICT", "NO ACTION":
	default:
		return "", cerrors.Of(cerrors.ErrSchemaError, "unknown foreign key action "+fk.OnDelete, nil)
	}
	ddl := fmt.Sprintf("FOREIGN KEY (%q) REFERENCES %q(%q)", fk.Column, fk.RefTable, refCol)
	if onDelete != "" {
		ddl += " ON DELETE " + onDelete
	}
	return ddl, nil
}

// validateForeignKeys rejects a foreign key that points at a table or
// column not already present in the branch's schema snapshot, or whose
// local column is neither an implicit column nor one supplied in this
// same CreateTable call. The table being created is not in the
// snapshot, so a key that references it is rejected.
func (m *Manager) validateForeignKeys(ctx context.Context, newCols []types.Column, fks []types.ForeignKey) error {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	localCols := map[string]bool{"id": true, "created_at": true, "updated_at": true}
	for _, c := range newCols {
		localCols[c.Name] = true
	}
	for _, fk := range fks {
		ts, ok := snap[fk.RefTable]
		if !ok {
			return cerrors.Of(cerrors.ErrSchemaError, "foreign key references non-existent table: '"+fk.RefTable+"'", nil)
		}
		refCol := fk.RefColumn
		if refCol == "" {
			refCol = "id"
		}
		found := false
		for _, c := range ts.Columns {
			if c.Name == refCol {
				found = true
				break
			}
		}
		if !found {
			return cerrors.Of(cerrors.ErrSchemaError, "foreign key references non-existent column: '"+fk.RefTable+"."+refCol+"'", nil)
		}
		if _, ok := localCols[fk.Column]; !ok {
			return cerrors.Of(cerrors.ErrSchemaError, "foreign key column '"+fk.Column+"' is not one of this table's columns", nil)
		}
	}
	return nil
}

// emit appends change and fans it out through the applier, the shared
// tail of every schema operation.
func (m *Manager) emit(ctx context.Context, c types.Change) error {
	if _, err := m.Changes.Append(ctx, nil, c); err != nil {
		return err
	}
	return m.Applier.Apply(ctx)
}
