// Package dispatch turns a triggered domain event into pending delivery
// events, one per matching subscription.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitestock/webhooks/internal/cache"
	"github.com/sitestock/webhooks/internal/clock"
	"github.com/sitestock/webhooks/internal/domain"
	"github.com/sitestock/webhooks/internal/observability"
	"github.com/sitestock/webhooks/internal/repository"
)

// Enqueuer receives persisted pending events for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, event *domain.DeliveryEvent, sub *domain.Subscription) error
}

// Dispatcher resolves the candidate subscription set for a trigger,
// applies filters, and fans the event out to the delivery pool.
type Dispatcher struct {
	subRepo   repository.SubscriptionRepository
	eventRepo repository.EventRepository
	cache     cache.SubscriptionCache
	pool      Enqueuer
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	cacheTTL  time.Duration
}

func NewDispatcher(
	subRepo repository.SubscriptionRepository,
	eventRepo repository.EventRepository,
	subCache cache.SubscriptionCache,
	pool Enqueuer,
	clk clock.Clock,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		subRepo:   subRepo,
		eventRepo: eventRepo,
		cache:     subCache,
		pool:      pool,
		clock:     clk,
		logger:    logger,
		cacheTTL:  cache.DefaultTTL,
	}
}

// WithMetrics enables Prometheus metrics collection.
func (d *Dispatcher) WithMetrics(m *observability.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// WithCacheTTL overrides the active-subscription cache TTL.
func (d *Dispatcher) WithCacheTTL(ttl time.Duration) *Dispatcher {
	d.cacheTTL = ttl
	return d
}

// TriggerEvent announces that a domain event occurred. It creates one
// pending delivery event per active, matching subscription and hands them
// to the delivery pool without waiting for delivery completion.
//
// Only structural errors (store or cache unreachable, unknown event type)
// are returned; individual delivery failures are absorbed into the event
// log so one subscriber's broken endpoint never affects the caller or the
// fan-out to others.
func (d *Dispatcher) TriggerEvent(ctx context.Context, eventType domain.EventType, payload json.RawMessage, filterCtx domain.FilterContext) error {
	if !eventType.Valid() {
		return fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, eventType)
	}
	if d.metrics != nil {
		d.metrics.TriggersTotal.Inc()
	}

	candidates, err := d.activeSubscriptions(ctx, eventType)
	if err != nil {
		return fmt.Errorf("resolve subscriptions: %w", err)
	}

	now := d.clock.Now()

	var (
		events  []*domain.DeliveryEvent
		matched []*domain.Subscription
	)
	for _, sub := range candidates {
		if !sub.SubscribesTo(eventType) {
			continue
		}
		if !sub.Filters.Matches(filterCtx) {
			continue
		}
		events = append(events, domain.NewDeliveryEvent(sub.ID, eventType, payload, now))
		matched = append(matched, sub)
	}

	if len(events) == 0 {
		d.logger.Debug("no matching subscriptions", "event_type", eventType)
		return nil
	}

	if err := d.eventRepo.CreateBatch(ctx, events); err != nil {
		return fmt.Errorf("persist fan-out: %w", err)
	}
	if d.metrics != nil {
		d.metrics.EventsFannedOut.Add(float64(len(events)))
	}

	for i, event := range events {
		if err := d.pool.Enqueue(ctx, event, matched[i]); err != nil {
			// The event is durable; the recovery poller re-arms it.
			d.logger.Warn("failed to enqueue delivery, leaving for recovery",
				"error", err,
				"event_id", event.ID,
			)
		}
	}

	d.logger.Debug("event fanned out",
		"event_type", eventType,
		"candidates", len(candidates),
		"matched", len(events),
	)
	return nil
}

// activeSubscriptions returns the candidate set, preferring the cache and
// repopulating it from the store on a miss. While the cache is unreachable
// the shared slot is left alone and only the subscriptions for this event
// type are loaded.
func (d *Dispatcher) activeSubscriptions(ctx context.Context, eventType domain.EventType) ([]*domain.Subscription, error) {
	subs, ok, err := d.cache.Get(ctx, cache.ActiveSlot)
	if err != nil {
		d.logger.Warn("subscription cache unavailable, falling back to store", "error", err)
		if d.metrics != nil {
			d.metrics.CacheMisses.Inc()
		}
		return d.subRepo.ListActiveByEventType(ctx, eventType)
	}
	if ok {
		if d.metrics != nil {
			d.metrics.CacheHits.Inc()
		}
		return subs, nil
	}
	if d.metrics != nil {
		d.metrics.CacheMisses.Inc()
	}

	subs, err = d.subRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if err := d.cache.Set(ctx, cache.ActiveSlot, subs, d.cacheTTL); err != nil {
		d.logger.Warn("failed to repopulate subscription cache", "error", err)
	}
	return subs, nil
}
