// Package merge implements the change comparator and merge engine:
// divergence between two branches' change lists,
// common-ancestor lookup, fast-forward detection, conflict detection,
// and merge-plan construction/execution. It operates purely on change
// ids and timestamps already recorded by internal/change — no tenant
// file is touched until Execute replays the plan through the applier.
// Set-difference-by-key drives divergence and conflict detection;
// Execute runs inside an OTel span, and Plan/Execute record the
// conflicts-detected and merges-applied counters.
package merge

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"

	"github.com/cinchdb/cinchdb/internal/applier"
	"github.com/cinchdb/cinchdb/internal/cerrors"
	"github.com/cinchdb/cinchdb/internal/change"
	"github.com/cinchdb/cinchdb/internal/metadata"
	"github.com/cinchdb/cinchdb/internal/paths"
	"github.com/cinchdb/cinchdb/internal/telemetry"
	"github.com/cinchdb/cinchdb/internal/types"
)

var instruments = mustInstruments()

type counters struct {
	conflictsDetected metric.Int64Counter
	mergesApplied      metric.Int64Counter
}

func mustInstruments() counters {
	conflicts, _ := telemetry.Meter.Int64Counter("cinchdb.merge.conflicts_detected")
	applied, _ := telemetry.Meter.Int64Counter("cinchdb.merge.merges_applied")
	return counters{conflictsDetected: conflicts, mergesApplied: applied}
}

// Conflict describes two changes, one on each side of a divergence,
// that touch the same entity.
type Conflict struct {
	Entity string
	Src    types.Change
	Dst    types.Change
}

// Plan is the ordered, side-effect-free output of Plan: the changes
// that must be replayed onto the target branch to bring it even with
// the source.
type Plan struct {
	Source      string          `yaml:"source"`
	Target      string          `yaml:"target"`
	FastForward bool            `yaml:"fast_forward"`
	Changes     []types.Change  `yaml:"changes"`
	Conflicts   []Conflict      `yaml:"conflicts,omitempty"`
}

// State is the merge state machine: Idle -> Planning ->
// (Conflict | Ready) -> Applying -> Done | Failed.
type State string

const (
	StateIdle     State = "idle"
	StatePlanning State = "planning"
	StateConflict State = "conflict"
	StateReady    State = "ready"
	StateApplying State = "applying"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// Comparator diffs two branches of one database by their change ids.
type Comparator struct {
	Root     string
	Database string
	Store    *metadata.Store
}

// New returns a Comparator bound to root's database.
func New(root, database string, store *metadata.Store) *Comparator {
	return &Comparator{Root: root, Database: database, Store: store}
}

func (c *Comparator) branchAndHistory(ctx context.Context, name string) (types.Branch, []types.Change, error) {
	db, err := c.Store.GetDatabase(ctx, c.Database)
	if err != nil {
		return types.Branch{}, nil, err
	}
	b, err := c.Store.GetBranch(ctx, db.ID, name)
	if err != nil {
		return types.Branch{}, nil, err
	}
	history, err := change.New(c.Store, b.ID).List(ctx)
	if err != nil {
		return types.Branch{}, nil, err
	}
	return b, history, nil
}

// Divergent returns (srcOnly, dstOnly): the changes present in src's
// history but absent from dst's, and vice versa, each sorted by
// creation time.
func (c *Comparator) Divergent(ctx context.Context, src, dst string) (srcOnly, dstOnly []types.Change, err error) {
	_, srcHist, err := c.branchAndHistory(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	_, dstHist, err := c.branchAndHistory(ctx, dst)
	if err != nil {
		return nil, nil, err
	}

	dstIDs := idSet(dstHist)
	srcIDs := idSet(srcHist)

	for _, ch := range srcHist {
		if !dstIDs[ch.ID] {
			srcOnly = append(srcOnly, ch)
		}
	}
	for _, ch := range dstHist {
		if !srcIDs[ch.ID] {
			dstOnly = append(dstOnly, ch)
		}
	}
	sortByCreatedAt(srcOnly)
	sortByCreatedAt(dstOnly)
	return srcOnly, dstOnly, nil
}

// CommonAncestor returns the most recent change present in both src's
// and dst's history, or ("", false) if they share none.
func (c *Comparator) CommonAncestor(ctx context.Context, src, dst string) (string, bool, error) {
	_, srcHist, err := c.branchAndHistory(ctx, src)
	if err != nil {
		return "", false, err
	}
	_, dstHist, err := c.branchAndHistory(ctx, dst)
	if err != nil {
		return "", false, err
	}
	dstIDs := idSet(dstHist)

	var best types.Change
	found := false
	for _, ch := range srcHist {
		if dstIDs[ch.ID] && (!found || ch.CreatedAt.After(best.CreatedAt)) {
			best = ch
			found = true
		}
	}
	if !found {
		return "", false, nil
	}
	return best.ID, true, nil
}

// CanFastForward reports whether dst has no changes src lacks — i.e.
// merging src into dst can only append, never reconcile a divergence.
func (c *Comparator) CanFastForward(ctx context.Context, src, dst string) (bool, error) {
	srcOnly, dstOnly, err := c.Divergent(ctx, src, dst)
	if err != nil {
		return false, err
	}
	return len(dstOnly) == 0 && len(srcOnly) > 0, nil
}

// entityKey returns the conflict-detection key for a change: the
// table name for table-level changes, "table.column" for column-level
// changes.
func entityKey(c types.Change) string {
	return c.EntityName
}

// DetectConflicts scans srcOnly/dstOnly (as returned by Divergent) for
// changes touching the same entity on both sides.
func (c *Comparator) DetectConflicts(ctx context.Context, src, dst string) ([]Conflict, error) {
	srcOnly, dstOnly, err := c.Divergent(ctx, src, dst)
	if err != nil {
		return nil, err
	}

	byEntity := make(map[string]types.Change, len(dstOnly))
	for _, ch := range dstOnly {
		byEntity[entityKey(ch)] = ch
	}

	var conflicts []Conflict
	for _, s := range srcOnly {
		if d, ok := byEntity[entityKey(s)]; ok {
			conflicts = append(conflicts, Conflict{Entity: entityKey(s), Src: s, Dst: d})
		}
	}
	return conflicts, nil
}

// Plan builds the ordered merge plan: the
// src-only changes to replay onto dst, in their original order. A
// non-fast-forward merge is refused unless force is set or the target
// is not "main" (merge_into_main is the stricter alias callers use to
// disallow force entirely). Planning performs no mutation.
func (c *Comparator) Plan(ctx context.Context, src, dst string, force bool) (Plan, error) {
	srcOnly, dstOnly, err := c.Divergent(ctx, src, dst)
	if err != nil {
		return Plan{}, err
	}
	ff := len(dstOnly) == 0 && len(srcOnly) > 0

	conflicts, err := c.DetectConflicts(ctx, src, dst)
	if err != nil {
		return Plan{}, err
	}
	if len(conflicts) > 0 {
		instruments.conflictsDetected.Add(ctx, int64(len(conflicts)), metric.WithAttributes(
			attribute.String("cinchdb.database", c.Database),
			attribute.String("cinchdb.source", src),
			attribute.String("cinchdb.target", dst),
		))
		return Plan{Source: src, Target: dst, FastForward: ff, Conflicts: conflicts},
			cerrors.Of(cerrors.ErrMergeConflict, fmt.Sprintf("merge %s into %s", src, dst), nil)
	}

	if !ff && !force && dst == paths.MainBranch {
		return Plan{Source: src, Target: dst, FastForward: ff},
			cerrors.Of(cerrors.ErrMergeRefused, fmt.Sprintf("merge %s into %s is not a fast-forward", src, dst), nil)
	}

	sortByCreatedAt(srcOnly)
	return Plan{Source: src, Target: dst, FastForward: ff, Changes: srcOnly}, nil
}

// MergeIntoMain never accepts force, so a non-fast-forward merge into
// main is always refused.
func (c *Comparator) MergeIntoMain(ctx context.Context, src string) (Plan, error) {
	return c.Plan(ctx, src, paths.MainBranch, false)
}

// Execute replays plan's changes onto its target: for each change, it
// links a copy into the target branch (recording Source as
// copied_from_branch_id) and runs the applier so every materialized
// tenant picks it up. On dryRun, Execute returns nil without any
// mutation. The target branch's maintenance lock is taken by the
// applier's own Apply call for each change, so it is released between
// changes and is not held while a change is being linked.
func (c *Comparator) Execute(ctx context.Context, plan Plan, dryRun bool) error {
	ctx, span := telemetry.Tracer.Start(ctx, "merge.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("cinchdb.source", plan.Source),
		attribute.String("cinchdb.target", plan.Target),
		attribute.Bool("cinchdb.dry_run", dryRun),
	)
	if dryRun {
		return nil
	}
	if len(plan.Conflicts) > 0 {
		span.SetStatus(codes.Error, "plan has unresolved conflicts")
		return cerrors.Of(cerrors.ErrMergeConflict, "execute merge plan", nil)
	}

	db, err := c.Store.GetDatabase(ctx, c.Database)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	srcBranch, err := c.Store.GetBranch(ctx, db.ID, plan.Source)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	dstBranch, err := c.Store.GetBranch(ctx, db.ID, plan.Target)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	for _, ch := range plan.Changes {
		if err := c.Store.LinkChangeCopy(ctx, nil, dstBranch.ID, ch.ID, srcBranch.ID); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		a := applier.New(c.Root, c.Database, plan.Target, c.Store, nil)
		if err := a.Apply(ctx); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	instruments.mergesApplied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cinchdb.database", c.Database),
		attribute.String("cinchdb.source", plan.Source),
		attribute.String("cinchdb.target", plan.Target),
	))
	return nil
}

// Merge is the convenience entry point combining Plan and Execute,
// the engine-level `merge(src, dst, dry_run?)` contract.
func (c *Comparator) Merge(ctx context.Context, src, dst string, force, dryRun bool) (Plan, error) {
	plan, err := c.Plan(ctx, src, dst, force)
	if err != nil {
		return plan, err
	}
	if err := c.Execute(ctx, plan, dryRun); err != nil {
		return plan, err
	}
	return plan, nil
}

// Report renders plan as human-readable YAML, the way a CLI or test
// harness would want to print a dry-run plan or conflict report.
func Report(plan Plan) (string, error) {
	out, err := yaml.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("merge: render plan report: %w", err)
	}
	return string(out), nil
}

func idSet(changes []types.Change) map[string]bool {
	m := make(map[string]bool, len(changes))
	for _, c := range changes {
		m[c.ID] = true
	}
	return m
}

func sortByCreatedAt(changes []types.Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].CreatedAt.Before(changes[j].CreatedAt)
	})
}
