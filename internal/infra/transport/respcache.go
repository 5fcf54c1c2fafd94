package transport

import (
	"net/url"
	"sync"
	"time"
)

// responseCache is the short-lived GET cache, keyed by path, sorted query
// parameters and a body hash. Mutating verbs invalidate their own key.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]respEntry
	ttl     time.Duration
	now     func() time.Time
}

type respEntry struct {
	resp      Response
	expiresAt time.Time
}

func newResponseCache(ttl time.Duration, now func() time.Time) *responseCache {
	if now == nil {
		now = time.Now
	}
	return &responseCache{
		entries: make(map[string]respEntry),
		ttl:     ttl,
		now:     now,
	}
}

func (c *responseCache) get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	resp := entry.resp
	resp.Body = append([]byte(nil), entry.resp.Body...)
	return &resp, true
}

func (c *responseCache) put(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := resp
	stored.Body = append([]byte(nil), resp.Body...)
	c.entries[key] = respEntry{resp: stored, expiresAt: c.now().Add(c.ttl)}
}

func (c *responseCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// cacheKey canonicalizes the request identity; url.Values.Encode sorts keys.
func cacheKey(path string, query url.Values, bodyHash string) string {
	return path + "?" + query.Encode() + "#" + bodyHash
}
