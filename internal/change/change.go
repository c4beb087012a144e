// Package change implements the change tracker: the per-branch,
// append-only log of schema mutations that is the single source of
// truth for a branch's schema. It is a thin manager over
// internal/metadata's changes/branch_changes tables, exposing
// append/list/unapplied/mark_applied/since/clear/copy_from to the
// schema operations and change applier packages.
package change

import (
	"context"
	"database/sql"

	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/types"
)

// Manager tracks one branch's change history.
type Manager struct {
	Store    *metadata.Store
	BranchID string
}

// New returns a Manager bound to branchID.
func New(store *metadata.Store, branchID string) *Manager {
	return &Manager{Store: store, BranchID: branchID}
}

// Append records c against the manager's branch, assigning an id (if
// absent) and the next applied_order, unapplied. exec lets callers
// (notably the schema managers) fold the append into their own
// transaction alongside the DDL's bookkeeping; pass nil to run
// standalone.
func (m *Manager) Append(ctx context.Context, exec *sql.Tx, c types.Change) (types.Change, error) {
	c.OriginBranchID = m.BranchID
	if exec == nil {
		return m.Store.AppendChange(ctx, nil, c)
	}
	return m.Store.AppendChange(ctx, exec, c)
}

// List returns the branch's full history in applied_order.
func (m *Manager) List(ctx context.Context) ([]types.Change, error) {
	return m.Store.ListChanges(ctx, m.BranchID)
}

// Unapplied returns the branch's unapplied changes in apply order —
// the applier's worklist.
func (m *Manager) Unapplied(ctx context.Context) ([]types.Change, error) {
	return m.Store.UnappliedChanges(ctx, m.BranchID)
}

// MarkApplied flips a change's applied flag for this branch. Idempotent.
func (m *Manager) MarkApplied(ctx context.Context, exec *sql.Tx, changeID string) error {
	if exec == nil {
		return m.Store.MarkApplied(ctx, nil, m.BranchID, changeID)
	}
	return m.Store.MarkApplied(ctx, exec, m.BranchID, changeID)
}

// Since returns the changes after the one with the given applied
// order, in order; an order of 0 returns the full history.
func (m *Manager) Since(ctx context.Context, order int) ([]types.Change, error) {
	return m.Store.ChangesSince(ctx, m.BranchID, order)
}

// Clear removes all link rows for the branch. The underlying change
// rows are kept, since other branches' histories may reference them.
func (m *Manager) Clear(ctx context.Context, exec *sql.Tx) error {
	if exec == nil {
		return m.Store.ClearChangeHistory(ctx, nil, m.BranchID)
	}
	return m.Store.ClearChangeHistory(ctx, exec, m.BranchID)
}

// CopyFrom appends link rows referencing srcBranchID's changes,
// preserving order and applied status, and records the copy's
// provenance — used by the branch manager when forking.
func (m *Manager) CopyFrom(ctx context.Context, exec *sql.Tx, srcBranchID string) error {
	if exec == nil {
		return m.Store.CopyChangeHistory(ctx, nil, srcBranchID, m.BranchID)
	}
	return m.Store.CopyChangeHistory(ctx, exec, srcBranchID, m.BranchID)
}
