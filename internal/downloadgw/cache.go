package downloadgw

import (
	"sync"
	"time"

	"github.com/gostratum/ingestgw/internal/controlplane"
)

// fileKeyCache is the one permitted in-process cache: a bounded, short-TTL
// map of FileKey lookups keyed by {projectId, accessKey}. Control-plane
// responses stay authoritative - entries only ever shortcut repeat lookups
// inside the TTL window.
type fileKeyCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
}

type cacheEntry struct {
	fk        *controlplane.FileKey
	expiresAt time.Time
}

func newFileKeyCache(ttl time.Duration, maxEntries int) *fileKeyCache {
	return &fileKeyCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func cacheKey(projectID, accessKey string) string {
	return projectID + "/" + accessKey
}

func (c *fileKeyCache) get(projectID, accessKey string) (*controlplane.FileKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(projectID, accessKey)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.fk, true
}

func (c *fileKeyCache) put(projectID, accessKey string, fk *controlplane.FileKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[cacheKey(projectID, accessKey)] = cacheEntry{
		fk:        fk,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// evictLocked drops expired entries, then the soonest-to-expire entry if
// the cache is still full. Holds c.mu.
func (c *fileKeyCache) evictLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = entry.expiresAt
		}
	}
	delete(c.entries, oldestKey)
}
