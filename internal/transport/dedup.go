package transport

import (
	"sync"
	"time"
)

// DedupCache is a mutex-guarded in-memory idempotence cache, generalizing
// oarkflow-email/dedup_store.go's file-backed dedupCache: same
// "remember a key for a TTL, second write wins nothing" shape, without
// the JSON-file persistence, since the transport's dedup window only
// needs to survive a single process's in-flight tick, not a restart (the
// exactly-once-under-restart guarantee lives in the state machine, not
// here).
type DedupCache struct {
	mu  sync.Mutex
	ttl time.Duration
	at  map[string]cacheEntry
}

type cacheEntry struct {
	messageID string
	seenAt    time.Time
}

// NewDedupCache builds a cache that forgets a key ttl after it was set.
func NewDedupCache(ttl time.Duration) *DedupCache {
	return &DedupCache{ttl: ttl, at: map[string]cacheEntry{}}
}

// Get returns the message ID recorded for key, if it has not expired.
func (c *DedupCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.at[key]
	if !ok {
		return "", false
	}
	if time.Since(e.seenAt) > c.ttl {
		delete(c.at, key)
		return "", false
	}
	return e.messageID, true
}

// Put records key as sent with the given provider message ID.
func (c *DedupCache) Put(key, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at[key] = cacheEntry{messageID: messageID, seenAt: time.Now()}
}
