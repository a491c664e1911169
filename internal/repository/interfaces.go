// Package repository defines the persistence contracts of the pipeline.
package repository

import (
	"context"
	"time"

	"github.com/sitestock/webhooks/internal/domain"
)

// StatsOutcome selects which counters IncrementStats bumps.
type StatsOutcome string

const (
	StatsOutcomeSuccess StatsOutcome = "success"
	StatsOutcomeFailure StatsOutcome = "failure"
)

// EventFilter narrows and paginates delivery-event listings.
type EventFilter struct {
	Status *domain.DeliveryStatus
	Skip   int
	Limit  int
}

// StatusCounts is the per-status breakdown of one subscription's events.
type StatusCounts struct {
	Pending int64
	Success int64
	Failed  int64
}

// SubscriptionRepository is the durable subscription store.
//
// Reads served from here reflect the latest committed state; only the
// subscription cache is allowed to be stale.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	ListByOwner(ctx context.Context, ownerID string, active *bool) ([]*domain.Subscription, error)
	ListActive(ctx context.Context) ([]*domain.Subscription, error)
	ListActiveByEventType(ctx context.Context, eventType domain.EventType) ([]*domain.Subscription, error)
	Update(ctx context.Context, sub *domain.Subscription) error
	// Delete removes the subscription and cascades deletion of its
	// delivery events.
	Delete(ctx context.Context, id string) error
	// IncrementStats atomically bumps the aggregate counters; concurrent
	// workers for the same subscription must never lose an increment.
	IncrementStats(ctx context.Context, id string, outcome StatsOutcome, at time.Time) error
}

// EventRepository is the durable delivery-event log.
type EventRepository interface {
	Create(ctx context.Context, event *domain.DeliveryEvent) error
	// CreateBatch persists one trigger's whole fan-out in a single insert.
	CreateBatch(ctx context.Context, events []*domain.DeliveryEvent) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryEvent, error)
	ListBySubscription(ctx context.Context, subscriptionID string, filter EventFilter) ([]*domain.DeliveryEvent, error)
	CountBySubscription(ctx context.Context, subscriptionID string) (StatusCounts, error)
	Update(ctx context.Context, event *domain.DeliveryEvent) error
	// Claim takes exclusive delivery ownership of a pending, due event by
	// pushing next_retry out to leaseUntil in one conditional update. It
	// reports false when the event is missing, terminal, or already
	// claimed, so two workers can never win the same event.
	Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	// ListDue returns pending events whose scheduled retry time has
	// passed, plus never-attempted pending events created before
	// staleBefore whose in-process hand-off was lost. Both cases cover
	// crash recovery after a restart.
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*domain.DeliveryEvent, error)
	DeleteBySubscription(ctx context.Context, subscriptionID string) error
	// PurgeOlderThan enforces the retention window.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
