package content

import (
	"container/list"
	"sync"
	"time"
)

const (
	defaultCacheTTL        = 30 * time.Minute
	defaultCacheMaxEntries = 256
)

// fileKey identifies the exact on-disk state a cache entry was computed from.
// Any write changes mtime or size and silently invalidates the entry.
type fileKey struct {
	MtimeNanos int64
	Size       int64
}

type cacheEntry struct {
	slug     string
	key      fileKey
	value    any
	cachedAt time.Time
	element  *list.Element
}

// fileCache is a per-slug cache of values derived from a project file,
// validated against the file's (mtime, size), expired after a TTL, and
// bounded with LRU eviction. The lock is never held across I/O.
type fileCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]*cacheEntry
	order   *list.List
	now     func() time.Time
}

func newFileCache(ttl time.Duration, maxEntries int) *fileCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	return &fileCache{
		ttl:     ttl,
		max:     maxEntries,
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the cached value for slug when the file key still matches and
// the entry has not expired. A hit refreshes the entry's LRU position.
func (c *fileCache) Get(slug string, key fileKey) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[slug]
	if !ok {
		return nil, false
	}
	if entry.key != key || c.now().Sub(entry.cachedAt) > c.ttl {
		c.removeLocked(entry)
		return nil, false
	}
	c.order.MoveToBack(entry.element)
	return entry.value, true
}

// Put stores a value for slug, evicting the least recently used entry when
// the bound is exceeded.
func (c *fileCache) Put(slug string, key fileKey, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[slug]; ok {
		c.removeLocked(existing)
	}
	entry := &cacheEntry{slug: slug, key: key, value: value, cachedAt: c.now()}
	entry.element = c.order.PushBack(entry)
	c.entries[slug] = entry

	for len(c.entries) > c.max {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
	}
}

// Invalidate drops the entry for slug, if any.
func (c *fileCache) Invalidate(slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[slug]; ok {
		c.removeLocked(entry)
	}
}

// Clear drops every entry.
func (c *fileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order.Init()
}

// Len reports the current entry count.
func (c *fileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *fileCache) removeLocked(entry *cacheEntry) {
	c.order.Remove(entry.element)
	delete(c.entries, entry.slug)
}
