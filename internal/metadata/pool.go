package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cinchdb/cinchdb/internal/paths"
)

// pool is the per-project connection pool singleton: a map guarded by
// a mutex, keyed by canonicalized project path. A *Store is
// reference-counted across concurrent Acquire/Release pairs so the
// same project root is never opened twice from within one process.
type pool struct {
	mu    sync.Mutex
	group singleflight.Group
	stores map[string]*refcountedStore
}

type refcountedStore struct {
	store *Store
	refs  int
}

var defaultPool = &pool{stores: make(map[string]*refcountedStore)}

// Handle is a reference-counted lease on a project's metadata Store.
// Callers must call Release exactly once for every successful Acquire.
type Handle struct {
	*Store
	key string
	p   *pool
}

// Release decrements the handle's reference count, closing the
// underlying connection once the last handle for a project is released.
func (h *Handle) Release() error {
	return h.p.release(h.key)
}

// Acquire returns a Handle on the metadata Store for the project
// rooted at root, opening and bootstrapping it on first use. Concurrent
// Acquire calls for the same canonicalized root are deduplicated via
// singleflight so only one goroutine performs the actual sql.Open.
func Acquire(ctx context.Context, root string, opts Options) (*Handle, error) {
	return defaultPool.acquire(ctx, root, opts)
}

func canonicalize(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("metadata: resolve project root %s: %w", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("metadata: resolve project root %s: %w", root, err)
	}
	return abs, nil
}

func (p *pool) acquire(ctx context.Context, root string, opts Options) (*Handle, error) {
	key, err := canonicalize(root)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if existing, ok := p.stores[key]; ok {
		existing.refs++
		p.mu.Unlock()
		return &Handle{Store: existing.store, key: key, p: p}, nil
	}
	p.mu.Unlock()

	metadataPath := paths.MetadataPath(key)
	v, err, _ := p.group.Do(key, func() (any, error) {
		return open(ctx, metadataPath, opts)
	})
	if err != nil {
		return nil, err
	}
	store := v.(*Store)
	store.root = key

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.stores[key]; ok {
		// Another goroutine won the race between the singleflight call
		// returning and us taking the lock; keep theirs, close ours.
		existing.refs++
		if existing.store != store {
			_ = store.Close()
		}
		return &Handle{Store: existing.store, key: key, p: p}, nil
	}
	p.stores[key] = &refcountedStore{store: store, refs: 1}
	return &Handle{Store: store, key: key, p: p}, nil
}

func (p *pool) release(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.stores[key]
	if !ok {
		return nil
	}
	rs.refs--
	if rs.refs > 0 {
		return nil
	}
	delete(p.stores, key)
	return rs.store.Close()
}

// CloseAll tears down every pooled Store regardless of outstanding
// reference counts. Teardown is explicit, for tests that need a clean
// pool between cases.
func CloseAll() error {
	return defaultPool.closeAll()
}

func (p *pool) closeAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for key, rs := range p.stores {
		if err := rs.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.stores, key)
	}
	return firstErr
}
