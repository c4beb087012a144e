package schema

import (
	"context"
	"encoding/json"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/types"
)

// columnsDetails is the JSON shape CreateTable and AddColumn store in
// a Change's Details field so the schema snapshot can be rebuilt from
// the branch's applied-change sequence without re-parsing the
// change's SQL text.
type columnsDetails struct {
	Columns []types.Column `json:"columns"`
}

type renameColumnDetails struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func implicitColumnDefs() []types.Column {
	return []types.Column{
		{Name: "id", Type: "TEXT", PrimaryKey: true},
		{Name: "created_at", Type: "TEXT", NotNull: true},
		{Name: "updated_at", Type: "TEXT", NotNull: true},
	}
}

// Snapshot rebuilds the per-branch schema snapshot by replaying the
// branch's applied changes in order: a map from table name to its
// current column list. Used by merge planning to validate that a
// change is legal in the target branch, and exposed as a first-class
// query since other callers (foreign key validation, reflection)
// need the same view.
func (m *Manager) Snapshot(ctx context.Context) (map[string]types.TableSchema, error) {
	history, err := m.Changes.List(ctx)
	if err != nil {
		return nil, err
	}

	snap := make(map[string]types.TableSchema)
	for _, c := range history {
		switch c.Type {
		case types.CreateTable:
			var d columnsDetails
			cols := implicitColumnDefs()
			if c.Details != "" {
				if err := json.Unmarshal([]byte(c.Details), &d); err == nil {
					cols = append(cols, d.Columns...)
				}
			}
			snap[c.EntityName] = types.TableSchema{Name: c.EntityName, Columns: cols}
		case types.DropTable:
			delete(snap, c.EntityName)
		case types.AddColumn:
			table, col := splitTableColumn(c.EntityName)
			var d columnsDetails
			if c.Details != "" {
				if err := json.Unmarshal([]byte(c.Details), &d); err == nil && len(d.Columns) == 1 {
					ts := snap[table]
					ts.Name = table
					ts.Columns = append(ts.Columns, d.Columns[0])
					snap[table] = ts
					continue
				}
			}
			ts := snap[table]
			ts.Name = table
			ts.Columns = append(ts.Columns, types.Column{Name: col})
			snap[table] = ts
		case types.DropColumn:
			table, col := splitTableColumn(c.EntityName)
			ts, ok := snap[table]
			if !ok {
				continue
			}
			ts.Columns = removeColumn(ts.Columns, col)
			snap[table] = ts
		case types.RenameColumn:
			table, _ := splitTableColumn(c.EntityName)
			ts, ok := snap[table]
			if !ok {
				continue
			}
			var d renameColumnDetails
			if c.Details != "" {
				if err := json.Unmarshal([]byte(c.Details), &d); err == nil {
					ts.Columns = renameColumn(ts.Columns, d.From, d.To)
					snap[table] = ts
				}
			}
		}
	}
	return snap, nil
}

// ColumnExists reports whether table.column is present in the
// branch's current schema snapshot, used by CreateIndex to fail
// before any SQL runs on an unknown column.
func (m *Manager) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	ts, ok := snap[table]
	if !ok {
		return false, nil
	}
	for _, c := range ts.Columns {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}

func splitTableColumn(entityName string) (table, column string) {
	for i := len(entityName) - 1; i >= 0; i-- {
		if entityName[i] == '.' {
			return entityName[:i], entityName[i+1:]
		}
	}
	return entityName, ""
}

func removeColumn(cols []types.Column, name string) []types.Column {
	out := cols[:0:0]
	for _, c := range cols {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

func renameColumn(cols []types.Column, from, to string) []types.Column {
	out := make([]types.Column, len(cols))
	for i, c := range cols {
		if c.Name == from {
			c.Name = to
		}
		out[i] = c
	}
	return out
}

func marshalColumns(cols []types.Column) string {
	b, err := json.Marshal(columnsDetails{Columns: cols})
	if err != nil {
		return ""
	}
	return string(b)
}

func marshalRenameColumn(from, to string) string {
	b, err := json.Marshal(renameColumnDetails{From: from, To: to})
	if err != nil {
		return ""
	}
	return string(b)
}

// validateColumnKnown wraps ColumnExists with the ErrSchemaError kind
// for CreateIndex's pre-flight check.
func (m *Manager) validateColumnKnown(ctx context.Context, table, column string) error {
	ok, err := m.ColumnExists(ctx, table, column)
	if err != nil {
		return err
	}
	if !ok {
		return cerrors.Of(cerrors.ErrSchemaError, "column "+table+"."+column+" does not exist", nil)
	}
	return nil
}
