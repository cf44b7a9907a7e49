package whatsapp

import (
	"sync"
	"time"
)

// DefaultSentCacheTTL is how long a sent message id is remembered for echo
// detection. Echoes of our own sends arrive within seconds; two minutes
// leaves a wide margin.
const DefaultSentCacheTTL = 2 * time.Minute

// SentCache remembers recently sent provider message ids so the inbound event
// path can drop echoes of the bot's own messages.
type SentCache struct {
	mu  sync.Mutex
	ttl time.Duration
	ids map[string]time.Time
	now func() time.Time
}

// NewSentCache creates a cache with the given TTL. A non-positive TTL falls
// back to DefaultSentCacheTTL.
func NewSentCache(ttl time.Duration) *SentCache {
	if ttl <= 0 {
		ttl = DefaultSentCacheTTL
	}
	return &SentCache{
		ttl: ttl,
		ids: make(map[string]time.Time),
		now: time.Now,
	}
}

// Add records a sent message id. Empty ids are ignored.
func (c *SentCache) Add(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()
	c.ids[id] = c.now().Add(c.ttl)
}

// Contains reports whether the id was sent recently enough to still be cached.
func (c *SentCache) Contains(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.ids[id]
	if !ok {
		return false
	}
	if c.now().After(deadline) {
		delete(c.ids, id)
		return false
	}
	return true
}

func (c *SentCache) purgeLocked() {
	now := c.now()
	for id, deadline := range c.ids {
		if now.After(deadline) {
			delete(c.ids, id)
		}
	}
}
