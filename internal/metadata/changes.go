package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/types"
)

// AppendChange records a new Change and links it into branchID's history
// at the next applied_order slot, unapplied. The change row itself is
// immutable and shared across branches once copied; the
// branch_changes link is what carries per-branch apply state.
func (s *Store) AppendChange(ctx context.Context, exec dbExecutor, c types.Change) (types.Change, error) {
	if exec == nil {
		exec = s.db
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO changes (id, database_id, origin_branch_id, type, entity_type, entity_name, details, sql, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DatabaseID, c.OriginBranchID, string(c.Type), string(c.EntityType), c.EntityName, c.Details, c.SQL, formatTime(c.CreatedAt))
	if err != nil {
		return types.Change{}, cerrors.Wrap("append change", err)
	}

	order, err := nextAppliedOrder(ctx, exec, c.OriginBranchID)
	if err != nil {
		return types.Change{}, err
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO branch_changes (branch_id, change_id, applied, applied_order, copied_from_branch_id)
		VALUES (?, ?, 0, ?, '')`,
		c.OriginBranchID, c.ID, order)
	if err != nil {
		return types.Change{}, cerrors.Wrap("link change to branch", err)
	}
	return c, nil
}

// LinkChangeCopy appends one existing change (already recorded against
// some origin branch) to dstBranchID's history at the next
// applied_order slot, unapplied, recording srcBranchID as its
// copied_from_branch_id. Used by the merge engine to replay a
// single change from a merge plan onto its target branch.
func (s *Store) LinkChangeCopy(ctx context.Context, exec dbExecutor, dstBranchID, changeID, srcBranchID string) error {
	if exec == nil {
		exec = s.db
	}
	order, err := nextAppliedOrder(ctx, exec, dstBranchID)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO branch_changes (branch_id, change_id, applied, applied_order, copied_from_branch_id)
		VALUES (?, ?, 0, ?, ?)`,
		dstBranchID, changeID, order, srcBranchID)
	if err != nil {
		if isUniqueViolation(err) {
			return cerrors.Of(cerrors.ErrAlreadyExists, "link change copy", err)
		}
		return cerrors.Wrap("link change copy", err)
	}
	return nil
}

// CopyChangeHistory links every change of srcBranchID into dstBranchID's
// history, preserving relative order and marking each link's applied
// state and copied_from_branch_id: a forked branch inherits its
// parent's full change history.
func (s *Store) CopyChangeHistory(ctx context.Context, exec dbExecutor, srcBranchID, dstBranchID string) error {
	if exec == nil {
		exec = s.db
	}
	rows, err := exec.QueryContext(ctx, `
		SELECT change_id, applied, applied_order FROM branch_changes
		WHERE branch_id = ? ORDER BY applied_order`, srcBranchID)
	if err != nil {
		return cerrors.Wrap("copy change history", err)
	}
	type link struct {
		changeID string
		applied  int
		order    int
	}
	var links []link
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.changeID, &l.applied, &l.order); err != nil {
			_ = rows.Close()
			return cerrors.Wrap("copy change history", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return cerrors.Wrap("copy change history", err)
	}
	_ = rows.Close()

	for _, l := range links {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO branch_changes (branch_id, change_id, applied, applied_order, copied_from_branch_id)
			VALUES (?, ?, ?, ?, ?)`,
			dstBranchID, l.changeID, l.applied, l.order, srcBranchID)
		if err != nil {
			return cerrors.Wrap("copy change history", err)
		}
	}
	return nil
}

// ListChanges returns a branch's full change history ordered by applied_order.
func (s *Store) ListChanges(ctx context.Context, branchID string) ([]types.Change, error) {
	return queryChanges(ctx, s.db, `
		SELECT c.id, c.database_id, c.origin_branch_id, c.type, c.entity_type, c.entity_name, c.details, c.sql, c.created_at
		FROM changes c
		JOIN branch_changes bc ON bc.change_id = c.id
		WHERE bc.branch_id = ?
		ORDER BY bc.applied_order`, branchID)
}

// UnappliedChanges returns a branch's unapplied changes in apply order —
// the exact worklist the change applier fans out to materialized
// tenants.
func (s *Store) UnappliedChanges(ctx context.Context, branchID string) ([]types.Change, error) {
	return queryChanges(ctx, s.db, `
		SELECT c.id, c.database_id, c.origin_branch_id, c.type, c.entity_type, c.entity_name, c.details, c.sql, c.created_at
		FROM changes c
		JOIN branch_changes bc ON bc.change_id = c.id
		WHERE bc.branch_id = ? AND bc.applied = 0
		ORDER BY bc.applied_order`, branchID)
}

// ChangesSince returns every change linked to branchID with
// applied_order strictly greater than order, in order — used to
// identify what a branch has that its parent lacks.
func (s *Store) ChangesSince(ctx context.Context, branchID string, order int) ([]types.Change, error) {
	return queryChanges(ctx, s.db, `
		SELECT c.id, c.database_id, c.origin_branch_id, c.type, c.entity_type, c.entity_name, c.details, c.sql, c.created_at
		FROM changes c
		JOIN branch_changes bc ON bc.change_id = c.id
		WHERE bc.branch_id = ? AND bc.applied_order > ?
		ORDER BY bc.applied_order`, branchID, order)
}

// MarkApplied flips a branch_changes link's applied flag to true. The
// applier calls this once every materialized tenant (including
// __empty__) has successfully applied the change's SQL.
func (s *Store) MarkApplied(ctx context.Context, exec dbExecutor, branchID, changeID string) error {
	if exec == nil {
		exec = s.db
	}
	_, err := exec.ExecContext(ctx, `
		UPDATE branch_changes SET applied = 1 WHERE branch_id = ? AND change_id = ?`, branchID, changeID)
	return cerrors.Wrap("mark change applied", err)
}

// HighestAppliedOrder returns the highest applied_order among branchID's
// applied links, or 0 if none are applied.
func (s *Store) HighestAppliedOrder(ctx context.Context, branchID string) (int, error) {
	var order sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(applied_order) FROM branch_changes WHERE branch_id = ? AND applied = 1`, branchID).Scan(&order)
	if err != nil {
		return 0, cerrors.Wrap("highest applied order", err)
	}
	return int(order.Int64), nil
}

// ClearChangeHistory removes every branch_changes link for branchID.
// The change rows themselves are left in place.
func (s *Store) ClearChangeHistory(ctx context.Context, exec dbExecutor, branchID string) error {
	if exec == nil {
		exec = s.db
	}
	_, err := exec.ExecContext(ctx, `DELETE FROM branch_changes WHERE branch_id = ?`, branchID)
	return cerrors.Wrap("clear change history", err)
}

func nextAppliedOrder(ctx context.Context, exec dbExecutor, branchID string) (int, error) {
	var max sql.NullInt64
	err := exec.QueryRowContext(ctx, `
		SELECT MAX(applied_order) FROM branch_changes WHERE branch_id = ?`, branchID).Scan(&max)
	if err != nil {
		return 0, cerrors.Wrap("next applied order", err)
	}
	return int(max.Int64) + 1, nil
}

func queryChanges(ctx context.Context, exec dbExecutor, query string, args ...any) ([]types.Change, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cerrors.Wrap("query changes", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Change
	for rows.Next() {
		var c types.Change
		var changeType, entityType string
		var details, sqlText sql.NullString
		var createdAt string
		err := rows.Scan(&c.ID, &c.DatabaseID, &c.OriginBranchID, &changeType, &entityType, &c.EntityName, &details, &sqlText, &createdAt)
		if err != nil {
			return nil, cerrors.Wrap("scan change", err)
		}
		c.Type = types.ChangeType(changeType)
		c.EntityType = types.EntityType(entityType)
		c.Details = details.String
		c.SQL = sqlText.String
		c.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, cerrors.Wrap("parse change created_at", err)
		}
		out = append(out, c)
	}
	return out, cerrors.Wrap("iterate changes", rows.Err())
}
