package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sitestock/webhooks/internal/clock"
	"github.com/sitestock/webhooks/internal/domain"
)

type memoryEntry struct {
	subs      []*domain.Subscription
	expiresAt time.Time
}

// MemoryCache is the in-process fallback used when Redis is not configured,
// and the implementation tests run against.
type MemoryCache struct {
	clock clock.Clock

	mu    sync.RWMutex
	slots map[string]memoryEntry
}

func NewMemoryCache(clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryCache{
		clock: clk,
		slots: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, slot string) ([]*domain.Subscription, bool, error) {
	c.mu.RLock()
	entry, ok := c.slots[slot]
	c.mu.RUnlock()

	if !ok || c.clock.Now().After(entry.expiresAt) {
		return nil, false, nil
	}

	subs := make([]*domain.Subscription, len(entry.subs))
	copy(subs, entry.subs)
	return subs, true, nil
}

func (c *MemoryCache) Set(_ context.Context, slot string, subs []*domain.Subscription, ttl time.Duration) error {
	stored := make([]*domain.Subscription, len(subs))
	copy(stored, subs)

	c.mu.Lock()
	c.slots[slot] = memoryEntry{subs: stored, expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, slot string) error {
	c.mu.Lock()
	delete(c.slots, slot)
	c.mu.Unlock()
	return nil
}
