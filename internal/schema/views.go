package schema

import (
	"fmt"

	"context"

	"github.com/cinchdb/cinchdb/internal/types"
)

// CreateView emits a CREATE VIEW change.
func (m *Manager) CreateView(ctx context.Context, name, query string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	return m.emit(ctx, types.Change{
		Type:       types.CreateView,
		EntityType: types.EntityView,
		EntityName: name,
		SQL:        fmt.Sprintf("CREATE VIEW %q AS %s", name, query),
	})
}

// UpdateView emits a single change that drops and recreates the view
// with a new query: an update is a drop followed by a create within
// one logical change.
func (m *Manager) UpdateView(ctx context.Context, name, query string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	sqlText := fmt.Sprintf("DROP VIEW %q; CREATE VIEW %q AS %s", name, name, query)
	return m.emit(ctx, types.Change{
		Type:       types.UpdateView,
		EntityType: types.EntityView,
		EntityName: name,
		SQL:        sqlText,
	})
}

// DropView emits a DROP VIEW change.
func (m *Manager) DropView(ctx context.Context, name string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	return m.emit(ctx, types.Change{
		Type:       types.DropView,
		EntityType: types.EntityView,
		EntityName: name,
		SQL:        fmt.Sprintf("DROP VIEW %q", name),
	})
}
