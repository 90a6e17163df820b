// ABOUTME: TTL set for suppressing redelivered webhook events.
// ABOUTME: The gateway may deliver the same provider message id more than once.

package dedupe

import (
	"sync"
	"time"
)

// Cache is a thread-safe TTL set of recently seen event keys. The webhook
// handler uses it to drop redelivered events before enrichment runs,
// since the gateway offers no receipt guarantee stronger than
// at-least-once. Entries are pruned lazily whenever the set grows past
// its size bound, so no background goroutine is needed.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache with the given TTL and size bound.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// CheckAndMark atomically reports whether key was already seen within the
// TTL, marking it as seen if not. A single call site avoids the
// check-then-mark race between concurrent webhook deliveries.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if ts, ok := c.seen[key]; ok && now.Sub(ts) < c.ttl {
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.prune(now)
	}
	c.seen[key] = now
	return false
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// prune drops expired entries; if everything is still live, the oldest
// entries go instead so the set never exceeds its bound. Caller holds mu.
func (c *Cache) prune(now time.Time) {
	for k, ts := range c.seen {
		if now.Sub(ts) >= c.ttl {
			delete(c.seen, k)
		}
	}
	for len(c.seen) >= c.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, ts := range c.seen {
			if oldestKey == "" || ts.Before(oldest) {
				oldestKey, oldest = k, ts
			}
		}
		delete(c.seen, oldestKey)
	}
}
