package proxy

import (
	"sync"
	"time"
)

const (
	elementCacheTTL      = 10 * time.Minute
	elementCacheMaxItems = 512
	elementCacheMaxBytes = 512 << 10
)

type elementEntry struct {
	data    []byte
	mime    string
	created time.Time
}

// elementCache keeps recently proxied images and stylesheets for the session
// that fetched them. Keys come from elementKey.
type elementCache struct {
	mu   sync.RWMutex
	now  func() time.Time
	ttl  time.Duration
	data map[string]elementEntry
}

// elementKey scopes a cached element to one session and requested type, so
// a fetch made by one client is never replayed to another.
func elementKey(sessionID, target, requested string) string {
	return sessionID + "\x00" + requested + "\x00" + target
}

func newElementCache(now func() time.Time) *elementCache {
	if now == nil {
		now = time.Now
	}
	return &elementCache{
		now:  now,
		ttl:  elementCacheTTL,
		data: make(map[string]elementEntry),
	}
}

func (c *elementCache) Store(key, mime string, data []byte) {
	if len(data) == 0 || len(data) > elementCacheMaxBytes {
		return
	}
	entry := elementEntry{
		data:    append([]byte(nil), data...),
		mime:    mime,
		created: c.now(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) >= elementCacheMaxItems {
		c.evictLocked()
	}
	c.data[key] = entry
}

func (c *elementCache) Load(key string) ([]byte, string, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.created) > c.ttl {
		return nil, "", false
	}
	return entry.data, entry.mime, true
}

// evictLocked drops expired entries, then the oldest one if still full.
func (c *elementCache) evictLocked() {
	now := c.now()
	var oldest string
	var oldestAt time.Time
	for k, e := range c.data {
		if now.Sub(e.created) > c.ttl {
			delete(c.data, k)
			continue
		}
		if oldest == "" || e.created.Before(oldestAt) {
			oldest, oldestAt = k, e.created
		}
	}
	if len(c.data) >= elementCacheMaxItems && oldest != "" {
		delete(c.data, oldest)
	}
}
