// Package paths assembles the on-disk layout of a project from
// already-validated names, and caches the assembled paths.
//
// Layout:
//
//	<root>/<stateDir>/metadata.db
//	<root>/<stateDir>/databases/<db>/branches/<branch>/
//	<root>/<stateDir>/databases/<db>/branches/<branch>/tenants/<shard>/<tenant>.db
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// StateDir is the hidden directory name every project keeps its
// metadata index and tenant files under.
const StateDir = ".cinchdb"

// MetadataFileName is the fixed name of the metadata index SQLite file.
const MetadataFileName = "metadata.db"

// EmptyTenant is the reserved per-branch schema template tenant name.
const EmptyTenant = "__empty__"

// MainTenant is the reserved user-facing tenant every branch must have.
const MainTenant = "main"

// MainBranch is the name of the branch every database is created with.
const MainBranch = "main"

// Shard returns the first two hex digits of SHA-256(tenantName), used
// to bucket tenant files so no single directory holds more than a few
// hundred of them even with tens of thousands of tenants.
func Shard(tenantName string) string {
	sum := sha256.Sum256([]byte(tenantName))
	return hex.EncodeToString(sum[:1])
}

// MetadataPath returns the path to the project's metadata index file.
func MetadataPath(root string) string {
	return filepath.Join(root, StateDir, MetadataFileName)
}

// StateRoot returns the project's hidden state directory.
func StateRoot(root string) string {
	return filepath.Join(root, StateDir)
}

// DatabaseDir returns the directory holding a database's branches.
func DatabaseDir(root, db string) string {
	return filepath.Join(root, StateDir, "databases", db)
}

// BranchDir returns the root directory of a single branch.
func BranchDir(root, db, branch string) string {
	return filepath.Join(DatabaseDir(root, db), "branches", branch)
}

// TenantsDir returns the directory holding a branch's sharded tenant files.
func TenantsDir(root, db, branch string) string {
	return filepath.Join(BranchDir(root, db, branch), "tenants")
}

// TenantShardDir returns the shard bucket directory for a given tenant name.
func TenantShardDir(root, db, branch, tenant string) string {
	return filepath.Join(TenantsDir(root, db, branch), Shard(tenant))
}

// TenantPath returns the full path to a tenant's SQLite file.
func TenantPath(root, db, branch, tenant string) string {
	return filepath.Join(TenantShardDir(root, db, branch, tenant), tenant+".db")
}

// EmptyTenantPath returns the path to a branch's __empty__ schema template.
func EmptyTenantPath(root, db, branch string) string {
	return TenantPath(root, db, branch, EmptyTenant)
}
