package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sitestock/webhooks/internal/clock"
	"github.com/sitestock/webhooks/internal/domain"
	"github.com/sitestock/webhooks/internal/observability"
	"github.com/sitestock/webhooks/internal/repository"
)

// Enqueuer re-submits recovered events to the delivery pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, event *domain.DeliveryEvent, sub *domain.Subscription) error
}

// PollerConfig holds configuration for the recovery poller.
type PollerConfig struct {
	// PollInterval is how often to sweep for due events (default: 30s).
	PollInterval time.Duration
	// BatchSize is the maximum events recovered per sweep (default: 100).
	BatchSize int
	// StalePendingAge is how old a never-attempted pending event must be
	// before the sweep reclaims it; fresh ones are still owned by an
	// in-process hand-off (default: 1m).
	StalePendingAge time.Duration
	// PurgeInterval is how often retention is enforced (default: 1h).
	PurgeInterval time.Duration
	// Retention is how long delivery events are kept (default: 30 days).
	Retention time.Duration
}

// DefaultPollerConfig returns sensible defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		PollInterval:    30 * time.Second,
		BatchSize:       100,
		StalePendingAge: time.Minute,
		PurgeInterval:   time.Hour,
		Retention:       domain.RetentionWindow,
	}
}

// Poller is the safety net under the in-process retry timers: after a
// crash or restart the scheduled timers are gone, so it sweeps the event
// log for pending events whose retry is due and re-enqueues them. It also
// enforces the delivery-event retention window.
type Poller struct {
	config    PollerConfig
	eventRepo repository.EventRepository
	subRepo   repository.SubscriptionRepository
	enqueuer  Enqueuer
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewPoller creates a recovery poller.
func NewPoller(
	eventRepo repository.EventRepository,
	subRepo repository.SubscriptionRepository,
	enqueuer Enqueuer,
	clk clock.Clock,
	config PollerConfig,
	logger *slog.Logger,
) *Poller {
	defaults := DefaultPollerConfig()
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.StalePendingAge == 0 {
		config.StalePendingAge = defaults.StalePendingAge
	}
	if config.PurgeInterval == 0 {
		config.PurgeInterval = defaults.PurgeInterval
	}
	if config.Retention == 0 {
		config.Retention = defaults.Retention
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		config:    config,
		eventRepo: eventRepo,
		subRepo:   subRepo,
		enqueuer:  enqueuer,
		clock:     clk,
		logger:    logger,
	}
}

// WithMetrics enables Prometheus metrics collection.
func (p *Poller) WithMetrics(m *observability.Metrics) *Poller {
	p.metrics = m
	return p
}

// Start runs the sweep loop until the context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("recovery poller started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"retention", p.config.Retention,
	)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	purgeTicker := time.NewTicker(p.config.PurgeInterval)
	defer purgeTicker.Stop()

	// Sweep immediately on start to reclaim anything lost to a restart.
	p.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("recovery poller stopped")
			return
		case <-ticker.C:
			p.sweep(ctx)
		case <-purgeTicker.C:
			p.purge(ctx)
		}
	}
}

// Sweep re-enqueues due pending events once. Exposed for tests and for an
// explicit sweep at startup.
func (p *Poller) Sweep(ctx context.Context) {
	p.sweep(ctx)
}

func (p *Poller) sweep(ctx context.Context) {
	now := p.clock.Now()
	events, err := p.eventRepo.ListDue(ctx, now, now.Add(-p.config.StalePendingAge), p.config.BatchSize)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Error("failed to list due events", "error", err)
		}
		return
	}
	if len(events) == 0 {
		return
	}

	recovered := 0
	for _, event := range events {
		sub, err := p.subRepo.GetByID(ctx, event.SubscriptionID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			p.logger.Error("failed to load subscription", "error", err, "event_id", event.ID)
			continue
		}
		if !sub.Active {
			continue
		}
		if err := p.enqueuer.Enqueue(ctx, event, sub); err != nil {
			p.logger.Warn("failed to re-enqueue recovered event", "error", err, "event_id", event.ID)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		p.logger.Info("recovered due events", "count", recovered)
	}
}

func (p *Poller) purge(ctx context.Context) {
	cutoff := p.clock.Now().Add(-p.config.Retention)
	purged, err := p.eventRepo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to purge expired events", "error", err)
		return
	}
	if purged > 0 {
		if p.metrics != nil {
			p.metrics.EventsPurged.Add(float64(purged))
		}
		p.logger.Info("purged expired delivery events", "count", purged, "cutoff", cutoff)
	}
}
