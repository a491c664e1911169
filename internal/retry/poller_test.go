package retry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sitestock/webhooks/internal/clock"
	"github.com/sitestock/webhooks/internal/domain"
	"github.com/sitestock/webhooks/internal/repository"
)

type mockEventRepo struct {
	due       []*domain.DeliveryEvent
	listDueAt []time.Time
	purged    int64
	purgedAt  *time.Time
}

func (m *mockEventRepo) Create(ctx context.Context, event *domain.DeliveryEvent) error { return nil }
func (m *mockEventRepo) CreateBatch(ctx context.Context, events []*domain.DeliveryEvent) error {
	return nil
}
func (m *mockEventRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryEvent, error) {
	return nil, domain.ErrNotFound
}
func (m *mockEventRepo) ListBySubscription(ctx context.Context, subscriptionID string, filter repository.EventFilter) ([]*domain.DeliveryEvent, error) {
	return nil, nil
}
func (m *mockEventRepo) CountBySubscription(ctx context.Context, subscriptionID string) (repository.StatusCounts, error) {
	return repository.StatusCounts{}, nil
}
func (m *mockEventRepo) Update(ctx context.Context, event *domain.DeliveryEvent) error { return nil }

func (m *mockEventRepo) Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	return true, nil
}

func (m *mockEventRepo) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*domain.DeliveryEvent, error) {
	m.listDueAt = append(m.listDueAt, now)
	if len(m.due) > limit {
		return m.due[:limit], nil
	}
	return m.due, nil
}

func (m *mockEventRepo) DeleteBySubscription(ctx context.Context, subscriptionID string) error {
	return nil
}

func (m *mockEventRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.purgedAt = &cutoff
	return m.purged, nil
}

type mockSubRepo struct {
	subs map[string]*domain.Subscription
}

func (m *mockSubRepo) Create(ctx context.Context, sub *domain.Subscription) error { return nil }

func (m *mockSubRepo) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockSubRepo) ListByOwner(ctx context.Context, ownerID string, active *bool) ([]*domain.Subscription, error) {
	return nil, nil
}
func (m *mockSubRepo) ListActive(ctx context.Context) ([]*domain.Subscription, error) {
	return nil, nil
}
func (m *mockSubRepo) ListActiveByEventType(ctx context.Context, eventType domain.EventType) ([]*domain.Subscription, error) {
	return nil, nil
}
func (m *mockSubRepo) Update(ctx context.Context, sub *domain.Subscription) error { return nil }
func (m *mockSubRepo) Delete(ctx context.Context, id string) error                { return nil }
func (m *mockSubRepo) IncrementStats(ctx context.Context, id string, outcome repository.StatsOutcome, at time.Time) error {
	return nil
}

type mockEnqueuer struct {
	enqueued []*domain.DeliveryEvent
	err      error
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, event *domain.DeliveryEvent, sub *domain.Subscription) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, event)
	return nil
}

func pendingEvent(id, subID string) *domain.DeliveryEvent {
	return &domain.DeliveryEvent{
		ID:             id,
		SubscriptionID: subID,
		EventType:      domain.EventTypeLowStockAlert,
		Payload:        json.RawMessage(`{}`),
		Status:         domain.DeliveryStatusPending,
	}
}

func TestPoller_SweepReenqueuesDueEvents(t *testing.T) {
	eventRepo := &mockEventRepo{
		due: []*domain.DeliveryEvent{
			pendingEvent("evt-1", "sub-1"),
			pendingEvent("evt-2", "sub-1"),
		},
	}
	subRepo := &mockSubRepo{subs: map[string]*domain.Subscription{
		"sub-1": {ID: "sub-1", Active: true},
	}}
	enqueuer := &mockEnqueuer{}

	poller := NewPoller(eventRepo, subRepo, enqueuer, &clock.MockClock{NowTime: time.Now()}, PollerConfig{}, nil)
	poller.Sweep(context.Background())

	if len(enqueuer.enqueued) != 2 {
		t.Errorf("expected 2 re-enqueued events, got %d", len(enqueuer.enqueued))
	}
}

func TestPoller_SweepSkipsMissingAndInactiveSubscriptions(t *testing.T) {
	eventRepo := &mockEventRepo{
		due: []*domain.DeliveryEvent{
			pendingEvent("evt-1", "sub-gone"),
			pendingEvent("evt-2", "sub-paused"),
			pendingEvent("evt-3", "sub-live"),
		},
	}
	subRepo := &mockSubRepo{subs: map[string]*domain.Subscription{
		"sub-paused": {ID: "sub-paused", Active: false},
		"sub-live":   {ID: "sub-live", Active: true},
	}}
	enqueuer := &mockEnqueuer{}

	poller := NewPoller(eventRepo, subRepo, enqueuer, &clock.MockClock{NowTime: time.Now()}, PollerConfig{}, nil)
	poller.Sweep(context.Background())

	if len(enqueuer.enqueued) != 1 {
		t.Fatalf("expected 1 re-enqueued event, got %d", len(enqueuer.enqueued))
	}
	if enqueuer.enqueued[0].ID != "evt-3" {
		t.Errorf("expected evt-3, got %s", enqueuer.enqueued[0].ID)
	}
}

func TestPoller_SweepRespectsBatchSize(t *testing.T) {
	eventRepo := &mockEventRepo{}
	for i := 0; i < 10; i++ {
		eventRepo.due = append(eventRepo.due, pendingEvent("evt", "sub-1"))
	}
	subRepo := &mockSubRepo{subs: map[string]*domain.Subscription{
		"sub-1": {ID: "sub-1", Active: true},
	}}
	enqueuer := &mockEnqueuer{}

	poller := NewPoller(eventRepo, subRepo, enqueuer, &clock.MockClock{NowTime: time.Now()}, PollerConfig{BatchSize: 4}, nil)
	poller.Sweep(context.Background())

	if len(enqueuer.enqueued) != 4 {
		t.Errorf("expected batch of 4, got %d", len(enqueuer.enqueued))
	}
}

func TestPoller_PurgeUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eventRepo := &mockEventRepo{purged: 12}
	subRepo := &mockSubRepo{}

	poller := NewPoller(eventRepo, subRepo, &mockEnqueuer{}, &clock.MockClock{NowTime: now}, PollerConfig{}, nil)
	poller.purge(context.Background())

	if eventRepo.purgedAt == nil {
		t.Fatal("expected purge to run")
	}
	want := now.Add(-domain.RetentionWindow)
	if !eventRepo.purgedAt.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, *eventRepo.purgedAt)
	}
}
