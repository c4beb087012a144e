// Package types holds the core data-model records: Database,
// Branch, Tenant, Change, and their supporting enums. They are plain
// structs with no behavior of their own; the packages under internal/
// that own a table (metadata, branch, tenant, change, schema, merge)
// operate on them.
package types

import "time"

// Database is a named namespace within a project.
type Database struct {
	ID           string
	Name         string
	Description  string
	Metadata     string // opaque JSON blob
	Materialized bool
	CreatedAt    time.Time
}

// Branch is a named line of schema evolution within a database.
type Branch struct {
	ID            string
	DatabaseID    string
	Name          string
	ParentBranch  string // empty for the root branch
	SchemaVersion string
	Materialized  bool
	Metadata      string
	ArchivedAt    *time.Time
	CreatedAt     time.Time
}

// IsArchived reports whether the branch has been deleted (archived, not
// hard-deleted).
func (b Branch) IsArchived() bool { return b.ArchivedAt != nil }

// Tenant is an isolated SQLite database carrying a branch's schema.
type Tenant struct {
	ID           string
	BranchID     string
	Name         string
	Shard        string
	Materialized bool
	Metadata     string
	CreatedAt    time.Time
}

// ChangeType is the closed set of schema mutation kinds.
type ChangeType string

const (
	CreateTable  ChangeType = "CREATE_TABLE"
	DropTable    ChangeType = "DROP_TABLE"
	RenameTable  ChangeType = "RENAME_TABLE"
	AddColumn    ChangeType = "ADD_COLUMN"
	DropColumn   ChangeType = "DROP_COLUMN"
	RenameColumn ChangeType = "RENAME_COLUMN"
	CreateView   ChangeType = "CREATE_VIEW"
	UpdateView   ChangeType = "UPDATE_VIEW"
	DropView     ChangeType = "DROP_VIEW"
	CreateIndex  ChangeType = "CREATE_INDEX"
	DropIndex    ChangeType = "DROP_INDEX"
)

// EntityType classifies what kind of schema object a Change targets.
type EntityType string

const (
	EntityTable  EntityType = "table"
	EntityColumn EntityType = "column"
	EntityView   EntityType = "view"
	EntityIndex  EntityType = "index"
)

// Change is one recorded schema mutation.
type Change struct {
	ID             string
	DatabaseID     string
	OriginBranchID string
	Type           ChangeType
	EntityType     EntityType
	EntityName     string
	Details        string // structured JSON, may be empty
	SQL            string // raw SQL, may be empty when Details carries the operation
	CreatedAt      time.Time
}

// BranchChange is the many-to-many link row attaching a Change to a
// branch's ordered history.
type BranchChange struct {
	BranchID            string
	ChangeID            string
	Applied             bool
	AppliedOrder        int
	CopiedFromBranchID  string // empty if originated on this branch
}

// MaintenanceMarker is the branch-scoped write lock held for the
// duration of an apply.
type MaintenanceMarker struct {
	BranchID  string
	Reason    string
	StartedAt time.Time
}

// Column describes one column of a table, used both for create-table
// input and for the per-branch schema snapshot.
type Column struct {
	Name       string
	Type       string // e.g. TEXT, INTEGER, REAL, BLOB, BOOLEAN
	NotNull    bool
	Unique     bool
	Default    string // raw SQL literal/expression, empty if none
	PrimaryKey bool
}

// ForeignKey is the compact table[, column][, on_delete] specifier
// attached to a column at table-creation time.
type ForeignKey struct {
	Column     string // the local column carrying the reference
	RefTable   string
	RefColumn  string // defaults to "id" if empty
	OnDelete   string // CASCADE, SET NULL, RESTRICT, NO ACTION; empty means NO ACTION
}

// Index describes a secondary index on a table.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// View describes a named SQL view.
type View struct {
	Name  string
	Query string
}

// TableSchema is one table's column list in the per-branch schema
// snapshot maintained from the applied-change sequence.
type TableSchema struct {
	Name    string
	Columns []Column
}
