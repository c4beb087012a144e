package metadata

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaDDL creates the project metadata index's logical schema. All
// statements are idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX
// IF NOT EXISTS), collapsed into one ordered bootstrap since this
// schema is closed and versioned from day one rather than
// incrementally evolved.
var schemaDDL = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS databases (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		description   TEXT NOT NULL DEFAULT '',
		metadata      TEXT NOT NULL DEFAULT '{}',
		materialized  INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS branches (
		id              TEXT PRIMARY KEY,
		database_id     TEXT NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
		name            TEXT NOT NULL,
		parent_branch   TEXT NOT NULL DEFAULT '',
		schema_version  TEXT NOT NULL DEFAULT '',
		materialized    INTEGER NOT NULL DEFAULT 0,
		metadata        TEXT NOT NULL DEFAULT '{}',
		archived_at     TEXT,
		created_at      TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_branches_active_name
		ON branches(database_id, name) WHERE archived_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS tenants (
		id            TEXT PRIMARY KEY,
		branch_id     TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
		name          TEXT NOT NULL,
		shard         TEXT NOT NULL,
		materialized  INTEGER NOT NULL DEFAULT 0,
		metadata      TEXT NOT NULL DEFAULT '{}',
		created_at    TEXT NOT NULL,
		UNIQUE(branch_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS changes (
		id                TEXT PRIMARY KEY,
		database_id       TEXT NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
		origin_branch_id  TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
		type              TEXT NOT NULL,
		entity_type       TEXT NOT NULL,
		entity_name       TEXT NOT NULL,
		details           TEXT,
		sql               TEXT,
		created_at        TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS branch_changes (
		branch_id               TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
		change_id               TEXT NOT NULL REFERENCES changes(id) ON DELETE CASCADE,
		applied                 INTEGER NOT NULL DEFAULT 0,
		applied_order           INTEGER NOT NULL,
		copied_from_branch_id   TEXT,
		PRIMARY KEY (branch_id, change_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_branch_changes_order ON branch_changes(branch_id, applied_order)`,
	`CREATE TABLE IF NOT EXISTS branch_maintenance (
		branch_id   TEXT PRIMARY KEY REFERENCES branches(id) ON DELETE CASCADE,
		reason      TEXT NOT NULL,
		started_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS encryption_keys (
		tenant_id    TEXT PRIMARY KEY REFERENCES tenants(id) ON DELETE CASCADE,
		wrapped_key  BLOB NOT NULL
	)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("metadata: bootstrap statement %d: %w", i, err)
		}
	}
	return nil
}
