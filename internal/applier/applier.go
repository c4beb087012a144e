// Package applier implements the change applier: the transactional
// fan-out of a branch's unapplied changes to every materialized
// tenant, under the branch maintenance lock. Uses a retry-and-trace
// idiom (backoff.Retry plus an OTel span/counter pair), adapted from a
// single-database retry loop into a per-tenant-per-change fan-out.
package applier

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/change"
	"github.com/cinchdb/cinchdb/internal/connfactory"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/paths"
	"github.com/cinchdb/cinchdb/internal/telemetry"
	"github.com/cinchdb/cinchdb/internal/types"
)

var instruments = mustInstruments()

type counters struct {
	changesApplied metric.Int64Counter
	tenantsUpdated metric.Int64Counter
}

func mustInstruments() counters {
	changesApplied, _ := telemetry.Meter.Int64Counter("cinchdb.applier.changes_applied")
	tenantsUpdated, _ := telemetry.Meter.Int64Counter("cinchdb.applier.tenants_updated")
	return counters{changesApplied: changesApplied, tenantsUpdated: tenantsUpdated}
}

// PartialApplyError reports that a change's fan-out stopped partway
// through its materialized tenants. The branch is left with the
// change still unapplied; retrying is safe for idempotent SQL.
type PartialApplyError struct {
	ChangeID string
	Tenant   string
	Err      error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("apply change %s to tenant %s: %v", e.ChangeID, e.Tenant, e.Err)
}

func (e *PartialApplyError) Unwrap() error { return e.Err }

// Applier fans out a branch's unapplied changes to its materialized tenants.
type Applier struct {
	Root     string
	Database string
	Branch   string
	Store    *metadata.Store
	Conn     *connfactory.Factory
}

// New returns an Applier bound to root's database/branch.
func New(root, database, branch string, store *metadata.Store, conn *connfactory.Factory) *Applier {
	if conn == nil {
		conn = connfactory.New()
	}
	return &Applier{Root: root, Database: database, Branch: branch, Store: store, Conn: conn}
}

// Apply acquires the maintenance lock, fetches unapplied changes in
// order, and for each one fans it out to every materialized tenant
// (including __empty__) in its own
// transaction. A per-tenant failure aborts the current change,
// releases the lock, and returns a *PartialApplyError describing
// exactly where it stopped.
func (a *Applier) Apply(ctx context.Context) error {
	ctx, span := telemetry.Tracer.Start(ctx, "applier.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("cinchdb.database", a.Database), attribute.String("cinchdb.branch", a.Branch))

	db, err := a.Store.GetDatabase(ctx, a.Database)
	if err != nil {
		return err
	}
	branch, err := a.Store.GetBranch(ctx, db.ID, a.Branch)
	if err != nil {
		return err
	}

	if err := a.Store.AcquireMaintenance(ctx, nil, branch.ID, "apply changes"); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer func() { _ = a.Store.ReleaseMaintenance(ctx, nil, branch.ID) }()

	changes := change.New(a.Store, branch.ID)
	unapplied, err := changes.Unapplied(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	for _, c := range unapplied {
		if err := a.applyOne(ctx, branch.ID, c); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if err := changes.MarkApplied(ctx, nil, c.ID); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if err := a.Store.SetSchemaVersion(ctx, nil, branch.ID, uuid.NewString()); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		instruments.changesApplied.Add(ctx, 1, metric.WithAttributes(
			attribute.String("cinchdb.database", a.Database),
			attribute.String("cinchdb.branch", a.Branch),
		))
	}
	return nil
}

func (a *Applier) applyOne(ctx context.Context, branchID string, c types.Change) error {
	tenants, err := a.Store.ListMaterializedTenants(ctx, branchID)
	if err != nil {
		return err
	}

	sqlText := c.SQL
	if sqlText == "" {
		sqlText, err = synthesize(c)
		if err != nil {
			return cerrors.Of(cerrors.ErrSchemaError, "synthesize SQL for change "+c.ID, err)
		}
	}

	for _, t := range tenants {
		if err := a.applyToTenant(ctx, t.Name, sqlText); err != nil {
			return &PartialApplyError{ChangeID: c.ID, Tenant: t.Name, Err: err}
		}
		instruments.tenantsUpdated.Add(ctx, 1, metric.WithAttributes(
			attribute.String("cinchdb.tenant", t.Name),
		))
	}
	return nil
}

func (a *Applier) applyToTenant(ctx context.Context, tenantName, sqlText string) error {
	path := paths.TenantPath(a.Root, a.Database, a.Branch, tenantName)
	return connfactory.WithRetry(ctx, func() error {
		db, err := a.Conn.Open(ctx, path)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return cerrors.Of(cerrors.ErrSchemaError, "begin tenant transaction", err)
		}
		if _, err := tx.ExecContext(ctx, sqlText); err != nil {
			_ = tx.Rollback()
			return cerrors.Of(cerrors.ErrSchemaError, "apply change DDL", err)
		}
		if err := tx.Commit(); err != nil {
			return cerrors.Of(cerrors.ErrSchemaError, "commit tenant transaction", err)
		}
		return nil
	})
}

// synthesize is the fallback for a change recorded without a SQL
// string. It builds no DDL from Details for any change type: it always
// returns an error, so applying such a change fails.
func synthesize(c types.Change) (string, error) {
	return "", fmt.Errorf("change %s (%s) has neither SQL nor a known structured synthesis", c.ID, c.Type)
}
