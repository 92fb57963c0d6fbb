package session

import (
	"sync"
	"time"
)

// WriteTools clears the entire cache on any call (a write may have changed
// files the cache has no way to invalidate precisely).
var WriteTools = map[string]bool{
	"bash":  true,
	"write": true,
	"edit":  true,
}

// CacheableTools are invalidated per-entry by a source mtime check rather
// than a blanket clear.
var CacheableTools = map[string]bool{
	"read": true,
	"glob": true,
	"grep": true,
	"list": true,
}

type cacheEntry struct {
	result   string
	cachedAt time.Time
	mtime    time.Time
}

// ToolCache memoizes read-only tool results within a session, bounded to
// maxSize entries with oldest-first eviction (spec §4.6's tool-result
// cache: WRITE_TOOLS clear, CACHEABLE_TOOLS TTL+mtime invalidation).
type ToolCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
}

// NewToolCache creates a cache holding at most maxSize entries, each valid
// for at most ttl.
func NewToolCache(maxSize int, ttl time.Duration) *ToolCache {
	if maxSize <= 0 {
		maxSize = 500
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ToolCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns a cached result for key if present, not past its TTL, and
// (when currentMtime is non-zero) still matching the source mtime it was
// cached under.
func (c *ToolCache) Get(key string, currentMtime time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Since(e.cachedAt) > c.ttl {
		return "", false
	}
	if !currentMtime.IsZero() && !e.mtime.Equal(currentMtime) {
		return "", false
	}
	return e.result, true
}

// Put stores result for key, evicting the oldest entry if at capacity.
func (c *ToolCache) Put(key, result string, mtime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{result: result, cachedAt: time.Now(), mtime: mtime}
}

// Clear empties the cache, called whenever a WriteTools call completes.
func (c *ToolCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
}

// Invalidate removes a single key, used on a CacheableTools mtime mismatch.
func (c *ToolCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
