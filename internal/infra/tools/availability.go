package tools

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cliproxy/internal/domain"
)

// AvailabilityCache memoizes tool probes for a short TTL and collapses
// concurrent probes of the same tool.
type AvailabilityCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]availabilityEntry
	group   singleflight.Group
}

type availabilityEntry struct {
	value     domain.Availability
	checkedAt time.Time
}

func NewAvailabilityCache(ttl time.Duration, now func() time.Time) *AvailabilityCache {
	if ttl <= 0 {
		ttl = domain.DefaultAvailabilityTTL
	}
	if now == nil {
		now = time.Now
	}
	return &AvailabilityCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]availabilityEntry),
	}
}

// Check returns a cached probe result or probes tool. force skips the cache.
func (c *AvailabilityCache) Check(ctx context.Context, tool domain.Tool, force bool) domain.Availability {
	id := tool.Descriptor().ID
	if !force {
		c.mu.Lock()
		entry, ok := c.entries[id]
		c.mu.Unlock()
		if ok && c.now().Sub(entry.checkedAt) < c.ttl {
			return entry.value
		}
	}
	result, _, _ := c.group.Do(id, func() (any, error) {
		value := tool.Probe(ctx)
		// A probe cut short by the caller says nothing about the tool.
		if ctx.Err() == nil {
			c.mu.Lock()
			c.entries[id] = availabilityEntry{value: value, checkedAt: c.now()}
			c.mu.Unlock()
		}
		return value, nil
	})
	return result.(domain.Availability)
}

// Invalidate drops the cached result for id.
func (c *AvailabilityCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
