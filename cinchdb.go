// Package cinchdb is the public entry point of the engine: a
// branchable, multi-tenant SQLite database system. Engine ties together
// the project/branch/tenant/schema/merge managers behind the facade
// higher layers (CLI, HTTP, codegen) are meant to consume, the way the
// teacher's beads.go wraps its storage package behind a narrow handle
// type rather than exposing internal/ directly.
package cinchdb

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cinchdb/cinchdb/internal/branch"
	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/connfactory"
	"github.com/cinchdb/cinchdb/internal/merge"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/paths"
	"github.com/cinchdb/cinchdb/internal/project"
	"github.com/cinchdb/cinchdb/internal/schema"
	"github.com/cinchdb/cinchdb/internal/tenant"
	"github.com/cinchdb/cinchdb/internal/types"
)

// Environment variables the core recognises as defaults for higher
// layers; the core itself only reads CINCHDB_PROJECT_DIR, via
// ProjectDirFromEnv.
const (
	EnvProjectDir = "CINCHDB_PROJECT_DIR"
	EnvDatabase   = "CINCHDB_DATABASE"
	EnvBranch     = "CINCHDB_BRANCH"
)

// ProjectDirFromEnv returns CINCHDB_PROJECT_DIR, or fallback if unset.
func ProjectDirFromEnv(fallback string) string {
	if v := os.Getenv(EnvProjectDir); v != "" {
		return v
	}
	return fallback
}

// Engine is a live handle on one project: its metadata index and the
// config.toml tunables layered over the engine's defaults. The zero
// value is not usable; construct one with Open or Init.
type Engine struct {
	Root   string
	Config project.Config
	Log    *slog.Logger

	handle *metadata.Handle
	conn   *connfactory.Factory
}

// Init bootstraps a new project at root (hidden state directory, root
// "main" database/branch/tenant) and returns an Engine open on it. Init
// is a no-op on a project that already has databases.
func Init(ctx context.Context, root string, opts ...Option) (*Engine, error) {
	if err := project.Init(ctx, root); err != nil {
		return nil, err
	}
	return Open(ctx, root, opts...)
}

// Open acquires the metadata index at root (bootstrapping it if
// necessary) and loads its config.toml, if present.
func Open(ctx context.Context, root string, opts ...Option) (*Engine, error) {
	e := &Engine{Root: root, Log: slog.Default(), conn: connfactory.New()}
	for _, opt := range opts {
		opt(e)
	}

	cfg, err := project.LoadConfig(root)
	if err != nil {
		return nil, err
	}
	e.Config = cfg

	h, err := metadata.Acquire(ctx, root, metadata.Options{BusyTimeout: cfg.BusyTimeout})
	if err != nil {
		return nil, err
	}
	e.handle = h
	e.Log.Debug("engine opened", slog.String("root", root))
	return e, nil
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the Engine's default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.Log = l }
}

// WithEncryption registers conn's encryption provider for every tenant
// connection the Engine opens.
func WithEncryption(p connfactory.EncryptionProvider) Option {
	return func(e *Engine) { e.conn.Encryption = p }
}

// Close releases the Engine's lease on the metadata index, closing the
// underlying connection once the last lease on this project is
// released.
func (e *Engine) Close() error {
	if e.handle == nil {
		return nil
	}
	e.Log.Debug("engine closed", slog.String("root", e.Root))
	return e.handle.Release()
}

// ListDatabases returns every database in the project.
func (e *Engine) ListDatabases(ctx context.Context) ([]types.Database, error) {
	return e.handle.ListDatabases(ctx)
}

// InitDatabase creates a new database. If lazy, its main branch has no
// on-disk tree until MaterializeDatabase or a write materializes it.
func (e *Engine) InitDatabase(ctx context.Context, name string, lazy bool) error {
	e.Log.Info("database init", slog.String("database", name), slog.Bool("lazy", lazy))
	return project.InitDatabase(ctx, e.Root, name, lazy)
}

// MaterializeDatabase turns a lazy database into a materialized one.
// A no-op if name is already materialized.
func (e *Engine) MaterializeDatabase(ctx context.Context, name string) error {
	e.Log.Info("database materialize", slog.String("database", name))
	return project.MaterializeDatabase(ctx, e.Root, name)
}

// DeleteDatabase removes a database's metadata rows (cascading its
// branches, tenants, and changes) and its on-disk directory tree.
func (e *Engine) DeleteDatabase(ctx context.Context, name string) error {
	db, err := e.handle.GetDatabase(ctx, name)
	if err != nil {
		return err
	}
	if err := e.handle.DeleteDatabase(ctx, db.ID); err != nil {
		return err
	}
	e.Log.Info("database deleted", slog.String("database", name))
	if err := os.RemoveAll(paths.DatabaseDir(e.Root, name)); err != nil {
		return cerrors.Of(cerrors.ErrIO, "remove database directory", err)
	}
	return nil
}

// Branches returns the branch manager for database.
func (e *Engine) Branches(database string) *branch.Manager {
	return branch.New(e.Root, database, e.handle.Store)
}

// Merge returns the change comparator / merge engine for database.
func (e *Engine) Merge(database string) *merge.Comparator {
	return merge.New(e.Root, database, e.handle.Store)
}

// Tenants returns the tenant manager for (database, branchName).
func (e *Engine) Tenants(database, branchName string) *tenant.Manager {
	return tenant.New(e.Root, database, branchName, e.handle.Store, e.conn)
}

// Schema returns the schema manager for (database, branchName).
func (e *Engine) Schema(ctx context.Context, database, branchName string) (*schema.Manager, error) {
	db, err := e.handle.GetDatabase(ctx, database)
	if err != nil {
		return nil, err
	}
	b, err := e.handle.GetBranch(ctx, db.ID, branchName)
	if err != nil {
		return nil, err
	}
	return schema.New(e.Root, database, branchName, e.handle.Store, b.ID), nil
}

// ReconcileReport is the read-only output of Reconcile: everything a
// doctor-style scan found wrong, without fixing any of it.
type ReconcileReport struct {
	StaleMaintenance []StaleMaintenance
	PartialApplies   []PartialApply
}

// StaleMaintenance describes a branch_maintenance row older than the
// project's configured stale-after threshold — almost always a process
// that died mid-Apply before its deferred release ran.
type StaleMaintenance struct {
	Database  string
	Branch    string
	Reason    string
	StartedAt time.Time
}

// PartialApply describes a branch with unapplied changes in its
// history that are not the most recent (i.e. an apply stopped partway
// through and a later change was appended on top), or simply any
// unapplied backlog worth surfacing to an operator.
type PartialApply struct {
	Database           string
	Branch             string
	UnappliedChangeIDs []string
}

// Reconcile scans every database and branch for two failure shapes an
// operator would otherwise have to notice on their own: a
// branch_maintenance row left behind by a process that died mid-Apply,
// and branches sitting on an unapplied change backlog. It mutates
// nothing; repair (re-running Apply, or force-releasing a lock known to
// be abandoned) is left to the caller.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	staleAfter := e.Config.MaintenanceStaleAfter
	if staleAfter <= 0 {
		staleAfter = project.DefaultConfig().MaintenanceStaleAfter
	}

	dbs, err := e.handle.ListDatabases(ctx)
	if err != nil {
		return report, err
	}
	for _, db := range dbs {
		branches, err := e.handle.ListBranches(ctx, db.ID)
		if err != nil {
			return report, err
		}
		for _, b := range branches {
			if marker, err := e.handle.GetMaintenance(ctx, b.ID); err == nil {
				if time.Since(marker.StartedAt) > staleAfter {
					report.StaleMaintenance = append(report.StaleMaintenance, StaleMaintenance{
						Database:  db.Name,
						Branch:    b.Name,
						Reason:    marker.Reason,
						StartedAt: marker.StartedAt,
					})
				}
			} else if !cerrors.Is(err, cerrors.ErrNotFound) {
				return report, err
			}

			unapplied, err := e.handle.UnappliedChanges(ctx, b.ID)
			if err != nil {
				return report, err
			}
			if len(unapplied) > 0 {
				ids := make([]string, len(unapplied))
				for i, c := range unapplied {
					ids[i] = c.ID
				}
				report.PartialApplies = append(report.PartialApplies, PartialApply{
					Database:           db.Name,
					Branch:             b.Name,
					UnappliedChangeIDs: ids,
				})
			}
		}
	}
	if len(report.StaleMaintenance) > 0 || len(report.PartialApplies) > 0 {
		e.Log.Warn("reconcile found issues",
			slog.Int("stale_maintenance", len(report.StaleMaintenance)),
			slog.Int("partial_applies", len(report.PartialApplies)))
	}
	return report, nil
}
