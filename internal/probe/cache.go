package probe

import (
	"sync"
	"time"
)

type cacheEntry struct {
	outcome   Outcome
	checkedAt time.Time
}

// resultCache keeps probe outcomes per address for a short TTL
type resultCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// get returns a fresh outcome and when it was measured
func (c *resultCache) get(address string) (Outcome, time.Time, bool) {
	if c.ttl <= 0 {
		return Outcome{}, time.Time{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[address]
	if !ok {
		return Outcome{}, time.Time{}, false
	}
	if c.now().Sub(entry.checkedAt) >= c.ttl {
		delete(c.entries, address)
		return Outcome{}, time.Time{}, false
	}
	return entry.outcome, entry.checkedAt, true
}

func (c *resultCache) put(address string, outcome Outcome, checkedAt time.Time) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[address] = cacheEntry{outcome: outcome, checkedAt: checkedAt}

	// Drop anything stale while we hold the lock
	for key, entry := range c.entries {
		if c.now().Sub(entry.checkedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
}
