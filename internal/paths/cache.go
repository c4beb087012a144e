package paths

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultCacheSize bounds the path cache to roughly 1000 entries.
const DefaultCacheSize = 1000

// Key identifies a cached path computation. A zero-value field means
// "not part of this key" (e.g. a database-level key leaves Branch and
// Tenant empty).
type Key struct {
	Database string
	Branch   string
	Tenant   string
}

// Cache is a bounded LRU cache of assembled paths, keyed by their
// inputs. Invalidation is write-through: callers that remove or rename
// a database/branch/tenant must call Invalidate so stale paths are
// never served.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[Key]*list.Element

	watcher *fsnotify.Watcher
	log     *slog.Logger
}

type entry struct {
	key   Key
	value string
}

// NewCache constructs a path cache bounded to capacity entries. capacity
// <= 0 uses DefaultCacheSize.
func NewCache(capacity int, log *slog.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
		log:      log,
	}
}

// Get returns the cached path for key, if present.
func (c *Cache) Get(key Key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// Put stores path under key, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *Cache) Put(key Key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&entry{key: key, value: value})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

// Invalidate drops every cached entry matching the non-empty fields of
// key. Invalidate(Key{Database: "db1"}) drops every branch/tenant path
// under db1; Invalidate(Key{Database: "db1", Branch: "b"}) narrows to
// one branch; all three fields narrows to a single tenant.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, el := range c.items {
		if matches(k, key) {
			c.ll.Remove(el)
			delete(c.items, k)
		}
	}
}

func matches(candidate, filter Key) bool {
	if filter.Database != "" && candidate.Database != filter.Database {
		return false
	}
	if filter.Branch != "" && candidate.Branch != filter.Branch {
		return false
	}
	if filter.Tenant != "" && candidate.Tenant != filter.Tenant {
		return false
	}
	return true
}

// Len reports the number of entries currently cached, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// WatchRoot starts an fsnotify watcher on root so that if something
// outside the engine removes or renames a tenant file, the cache does
// not keep serving a stale path. This is purely additive: the cache is
// correct without it, just slower to notice out-of-band filesystem
// changes. Close must be called to stop the watcher.
func (c *Cache) WatchRoot(root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(root); err != nil {
		_ = w.Close()
		return err
	}
	c.mu.Lock()
	c.watcher = w
	c.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					c.log.Debug("paths: invalidating cache after external filesystem change", "path", event.Name)
					c.clearAll()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.log.Warn("paths: watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (c *Cache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[Key]*list.Element)
}

// Close stops the filesystem watcher, if one was started.
func (c *Cache) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
