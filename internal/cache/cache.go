// Package cache provides the short-TTL active-subscription cache consulted
// by the dispatcher on every trigger.
//
// The cache is an explicit component injected where it is needed, never a
// process-wide singleton, so tests can run with an isolated cache each.
// Staleness is bounded two ways: entries expire after a fixed TTL, and
// every subscription mutation invalidates the slot before returning.
package cache

import (
	"context"
	"time"

	"github.com/sitestock/webhooks/internal/domain"
)

// ActiveSlot is the single cache slot holding all active subscriptions.
// Event-type pruning happens in the dispatcher, not in the cache key.
const ActiveSlot = "subscriptions:active"

// DefaultTTL bounds how stale the active set may get when invalidation is
// missed (for example a competing process mutating the store directly).
const DefaultTTL = 10 * time.Minute

// SubscriptionCache stores the resolved active-subscription set.
type SubscriptionCache interface {
	// Get returns the cached subscriptions and whether the slot was
	// populated.
	Get(ctx context.Context, slot string) ([]*domain.Subscription, bool, error)
	Set(ctx context.Context, slot string, subs []*domain.Subscription, ttl time.Duration) error
	Invalidate(ctx context.Context, slot string) error
}
