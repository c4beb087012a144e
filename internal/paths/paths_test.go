package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
)

func TestShardDeterministic(t *testing.T) {
	sum := sha256.Sum256([]byte("acme-corp"))
	want := hex.EncodeToString(sum[:1])
	if got := Shard("acme-corp"); got != want {
		t.Errorf("Shard() = %q, want %q", got, want)
	}
	if got := Shard("acme-corp"); got != Shard("acme-corp") {
		t.Errorf("Shard() not deterministic: %q vs %q", got, Shard("acme-corp"))
	}
}

func TestTenantPathLayout(t *testing.T) {
	got := TenantPath("/proj", "db1", "main", "acme")
	want := filepath.Join("/proj", StateDir, "databases", "db1", "branches", "main", "tenants", Shard("acme"), "acme.db")
	if got != want {
		t.Errorf("TenantPath() = %q, want %q", got, want)
	}
}

func TestEmptyTenantPath(t *testing.T) {
	got := EmptyTenantPath("/proj", "db1", "main")
	want := TenantPath("/proj", "db1", "main", EmptyTenant)
	if got != want {
		t.Errorf("EmptyTenantPath() = %q, want %q", got, want)
	}
}

func TestCacheGetPutInvalidate(t *testing.T) {
	c := NewCache(2, nil)
	k1 := Key{Database: "d1", Branch: "main", Tenant: "acme"}
	k2 := Key{Database: "d1", Branch: "main", Tenant: "other"}

	c.Put(k1, "/path/acme")
	c.Put(k2, "/path/other")

	if v, ok := c.Get(k1); !ok || v != "/path/acme" {
		t.Fatalf("Get(k1) = %q, %v", v, ok)
	}

	c.Invalidate(Key{Tenant: "acme"})
	if _, ok := c.Get(k1); ok {
		t.Fatalf("expected k1 invalidated")
	}
	if _, ok := c.Get(k2); !ok {
		t.Fatalf("expected k2 to survive narrow invalidation")
	}
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2, nil)
	c.Put(Key{Tenant: "a"}, "a")
	c.Put(Key{Tenant: "b"}, "b")
	c.Put(Key{Tenant: "c"}, "c") // evicts "a" (least recently used)

	if _, ok := c.Get(Key{Tenant: "a"}); ok {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestCacheInvalidateByDatabase(t *testing.T) {
	c := NewCache(10, nil)
	c.Put(Key{Database: "d1", Branch: "main", Tenant: "a"}, "pa")
	c.Put(Key{Database: "d1", Branch: "feat", Tenant: "b"}, "pb")
	c.Put(Key{Database: "d2", Branch: "main", Tenant: "c"}, "pc")

	c.Invalidate(Key{Database: "d1"})

	if _, ok := c.Get(Key{Database: "d1", Branch: "main", Tenant: "a"}); ok {
		t.Fatalf("expected d1/main/a invalidated")
	}
	if _, ok := c.Get(Key{Database: "d1", Branch: "feat", Tenant: "b"}); ok {
		t.Fatalf("expected d1/feat/b invalidated")
	}
	if _, ok := c.Get(Key{Database: "d2", Branch: "main", Tenant: "c"}); !ok {
		t.Fatalf("expected d2 entries to survive")
	}
}
