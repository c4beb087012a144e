package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/types"
)

// AcquireMaintenance inserts a branch_maintenance row for branchID,
// failing with ErrMaintenanceInProgress if one already exists.
// Maintenance is modeled as a row rather than an OS-level file lock so
// any process sharing the metadata index observes it, including ones
// on a different host mounting the same project over a network
// filesystem.
func (s *Store) AcquireMaintenance(ctx context.Context, exec dbExecutor, branchID, reason string) error {
	if exec == nil {
		exec = s.db
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO branch_maintenance (branch_id, reason, started_at)
		VALUES (?, ?, ?)`, branchID, reason, formatTime(time.Now().UTC()))
	if err != nil {
		if isUniqueViolation(err) {
			return cerrors.Of(cerrors.ErrMaintenanceInProgress, "acquire maintenance lock", err)
		}
		return cerrors.Wrap("acquire maintenance lock", err)
	}
	return nil
}

// ReleaseMaintenance removes branchID's maintenance row. Safe to call
// even if no row exists (idempotent release on a deferred unlock path).
func (s *Store) ReleaseMaintenance(ctx context.Context, exec dbExecutor, branchID string) error {
	if exec == nil {
		exec = s.db
	}
	_, err := exec.ExecContext(ctx, `DELETE FROM branch_maintenance WHERE branch_id = ?`, branchID)
	return cerrors.Wrap("release maintenance lock", err)
}

// GetMaintenance reports the current maintenance marker for branchID, if
// any. Returns ErrNotFound when the branch is not under maintenance.
func (s *Store) GetMaintenance(ctx context.Context, branchID string) (types.MaintenanceMarker, error) {
	var m types.MaintenanceMarker
	var startedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT branch_id, reason, started_at FROM branch_maintenance WHERE branch_id = ?`, branchID).
		Scan(&m.BranchID, &m.Reason, &startedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.MaintenanceMarker{}, cerrors.Of(cerrors.ErrNotFound, "get maintenance lock", err)
		}
		return types.MaintenanceMarker{}, cerrors.Wrap("get maintenance lock", err)
	}
	m.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return types.MaintenanceMarker{}, cerrors.Wrap("parse maintenance started_at", err)
	}
	return m, nil
}

// InMaintenance is a convenience boolean wrapper around GetMaintenance,
// used by read paths that only need to know whether to route around a
// branch currently being modified.
func (s *Store) InMaintenance(ctx context.Context, branchID string) (bool, error) {
	_, err := s.GetMaintenance(ctx, branchID)
	if err == nil {
		return true, nil
	}
	if cerrors.Is(err, cerrors.ErrNotFound) {
		return false, nil
	}
	return false, err
}
