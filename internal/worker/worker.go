// Package worker implements the webhook delivery engine.
//
// Architecture:
//
//	┌────────────┐   Enqueue    ┌─────────────────────────┐
//	│ Dispatcher │ ───────────> │  task queue (buffered)  │
//	└────────────┘              └───────────┬─────────────┘
//	                                        │
//	                   ┌────────────────────┼────────────────────┐
//	             ┌─────▼─────┐        ┌─────▼─────┐        ┌─────▼─────┐
//	             │  Worker 1 │        │  Worker 2 │        │  Worker N │
//	             └─────┬─────┘        └───────────┘        └───────────┘
//	                   │ on failure: persist, then timer-based re-enqueue
//	                   └──────────────> retry timer ──> existence check ──> queue
//
// Each delivery event is owned by one worker at a time: a worker claims
// the event in the store before attempting it, so even when the retry
// timer and the recovery poller enqueue the same event, only one attempt
// proceeds and an event is never attempted twice concurrently. Different
// events proceed fully in parallel; the only shared write path is the
// subscription statistics, which the store increments atomically.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sitestock/webhooks/internal/clock"
	"github.com/sitestock/webhooks/internal/domain"
	"github.com/sitestock/webhooks/internal/observability"
	"github.com/sitestock/webhooks/internal/repository"
	"github.com/sitestock/webhooks/internal/resilience"
	"github.com/sitestock/webhooks/internal/retry"
	"github.com/sitestock/webhooks/internal/signature"
)

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config defines worker pool parameters.
//
// Workers: number of concurrent delivery goroutines.
// QueueSize: buffered delivery tasks admitted before Enqueue blocks.
// ThrottleDelay: reschedule delay when an attempt is deferred by the rate
// limiter or an open circuit (does not consume a retry attempt).
type Config struct {
	Workers       int
	QueueSize     int
	ThrottleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:       10,
		QueueSize:     1024,
		ThrottleDelay: time.Second,
	}
}

const maxResponseBodyBytes = 1024

type task struct {
	event *domain.DeliveryEvent
	sub   *domain.Subscription
}

// Pool manages worker goroutines for webhook delivery.
// Use NewPool to create, then call Start to begin processing.
// Call Stop for graceful shutdown; pending retry timers are cancelled.
type Pool struct {
	config      Config
	eventRepo   repository.EventRepository
	subRepo     repository.SubscriptionRepository
	httpClient  HTTPClient
	clock       clock.Clock
	retryPolicy retry.Policy
	logger      *slog.Logger
	metrics     *observability.Metrics

	rateLimiter    *resilience.RateLimiterManager
	circuitBreaker *resilience.CircuitBreakerManager

	queue  chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a worker pool with the given dependencies.
// Use WithMetrics and WithResilience to add optional features.
func NewPool(
	config Config,
	eventRepo repository.EventRepository,
	subRepo repository.SubscriptionRepository,
	httpClient HTTPClient,
	clk clock.Clock,
	retryPolicy retry.Policy,
	logger *slog.Logger,
) *Pool {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.ThrottleDelay <= 0 {
		config.ThrottleDelay = DefaultConfig().ThrottleDelay
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pool{
		config:      config,
		eventRepo:   eventRepo,
		subRepo:     subRepo,
		httpClient:  httpClient,
		clock:       clk,
		retryPolicy: retryPolicy,
		logger:      logger,
		queue:       make(chan task, config.QueueSize),
	}
}

// WithMetrics enables Prometheus metrics collection.
func (p *Pool) WithMetrics(m *observability.Metrics) *Pool {
	p.metrics = m
	return p
}

// WithResilience enables per-destination rate limiting and circuit
// breaker protection in front of delivery attempts.
func (p *Pool) WithResilience(rl *resilience.RateLimiterManager, cb *resilience.CircuitBreakerManager) *Pool {
	p.rateLimiter = rl
	p.circuitBreaker = cb
	if cb != nil && p.metrics != nil {
		cb.OnStateChange(func(subscriptionID string, _, to resilience.CircuitState) {
			if to == resilience.CircuitStateOpen {
				p.metrics.CircuitBreakerTrips.WithLabelValues(subscriptionID).Inc()
			}
		})
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(p.ctx)
	}

	p.logger.Info("delivery worker pool started", "workers", p.config.Workers)
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("delivery worker pool stopped")
}

// Enqueue hands a pending delivery event to the pool. It blocks only when
// the queue is at capacity, bounding admission; it never waits for the
// delivery itself.
func (p *Pool) Enqueue(ctx context.Context, event *domain.DeliveryEvent, sub *domain.Subscription) error {
	select {
	case p.queue <- task{event: event, sub: sub}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForgetDestination drops resilience state for a deleted subscription.
func (p *Pool) ForgetDestination(subscriptionID string) {
	if p.rateLimiter != nil {
		p.rateLimiter.Remove(subscriptionID)
	}
	if p.circuitBreaker != nil {
		p.circuitBreaker.Remove(subscriptionID)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			p.deliver(ctx, t)
		}
	}
}

// attemptResult captures the outcome of one HTTP attempt.
type attemptResult struct {
	statusCode *int
	body       *string
	err        error
}

func (r attemptResult) success() bool {
	return r.err == nil && r.statusCode != nil && *r.statusCode >= 200 && *r.statusCode < 300
}

func (r attemptResult) errorMessage() string {
	if r.err != nil {
		return r.err.Error()
	}
	if r.statusCode != nil {
		return fmt.Sprintf("delivery failed with status %d", *r.statusCode)
	}
	return "delivery failed"
}

// claimLeaseSlack pads the claim lease past the subscription timeout so a
// healthy attempt always finishes inside its lease. If the process dies
// mid-attempt the lease expires and the recovery poller picks the event
// back up.
const claimLeaseSlack = time.Minute

// claim takes exclusive ownership of the event before attempting it. The
// store pushes next_retry out to the lease horizon in the same statement
// that checks the event is still pending and due, so the recovery poller
// and a concurrently fired retry timer can never hand one event to two
// workers at once.
func (p *Pool) claim(ctx context.Context, event *domain.DeliveryEvent, sub *domain.Subscription) bool {
	now := p.clock.Now()
	claimed, err := p.eventRepo.Claim(ctx, event.ID, now, now.Add(sub.Timeout+claimLeaseSlack))
	if err != nil {
		p.logger.Error("failed to claim delivery event", "error", err, "event_id", event.ID)
		return false
	}
	if !claimed {
		p.logger.Debug("delivery event claimed elsewhere", "event_id", event.ID)
	}
	return claimed
}

func (p *Pool) deliver(ctx context.Context, t task) {
	event, sub := t.event, t.sub

	if !p.claim(ctx, event, sub) {
		return
	}

	if p.rateLimiter != nil && !p.rateLimiter.Allow(sub.ID) {
		if p.metrics != nil {
			p.metrics.RateLimiterRejects.WithLabelValues(sub.ID).Inc()
		}
		// Reschedule for when the bucket refills rather than blindly
		// hammering the limiter at the base throttle interval.
		delay := p.config.ThrottleDelay
		if wait := p.rateLimiter.Wait(sub.ID); wait > delay {
			delay = wait
		}
		p.throttle(ctx, event, "rate limited", delay)
		return
	}

	result := p.attemptThroughBreaker(ctx, event, sub)
	if errors.Is(result.err, gobreaker.ErrOpenState) || errors.Is(result.err, gobreaker.ErrTooManyRequests) {
		p.throttle(ctx, event, "circuit breaker open", p.config.ThrottleDelay)
		return
	}

	now := p.clock.Now()

	if result.success() {
		event.MarkSuccess(now, *result.statusCode, deref(result.body))
		p.persistEvent(ctx, event)
		p.incrementStats(ctx, sub.ID, repository.StatsOutcomeSuccess, now)
		if p.metrics != nil {
			p.metrics.DeliveriesSucceeded.Inc()
		}
		p.logger.Debug("delivery successful",
			"event_id", event.ID,
			"subscription_id", sub.ID,
			"status_code", *result.statusCode,
			"attempt", event.Attempts,
		)
		return
	}

	retryDue := event.MarkAttemptFailed(now, result.errorMessage(), result.statusCode, result.body, sub.RetryPolicy.MaxRetries)
	if retryDue {
		next := p.retryPolicy.NextAttemptTime(now, sub.RetryPolicy.RetryDelay, event.Attempts)
		event.ScheduleRetry(next)
		p.persistEvent(ctx, event)
		if p.metrics != nil {
			p.metrics.DeliveriesRetried.Inc()
		}
		p.logger.Info("scheduling retry",
			"event_id", event.ID,
			"subscription_id", sub.ID,
			"attempt", event.Attempts,
			"next_retry", next,
		)
		p.scheduleRequeue(event.ID, next.Sub(now))
		return
	}

	p.persistEvent(ctx, event)
	p.incrementStats(ctx, sub.ID, repository.StatsOutcomeFailure, now)
	if p.metrics != nil {
		p.metrics.DeliveriesFailed.Inc()
	}
	p.logger.Warn("delivery failed permanently",
		"event_id", event.ID,
		"subscription_id", sub.ID,
		"attempts", event.Attempts,
		"error", result.errorMessage(),
	)
}

func (p *Pool) attemptThroughBreaker(ctx context.Context, event *domain.DeliveryEvent, sub *domain.Subscription) attemptResult {
	if p.circuitBreaker == nil {
		return p.attempt(ctx, sub, event.EventType, event.Payload, event.ID, event.Attempts+1)
	}

	raw, err := p.circuitBreaker.Execute(sub.ID, func() (any, error) {
		result := p.attempt(ctx, sub, event.EventType, event.Payload, event.ID, event.Attempts+1)
		if result.success() {
			return result, nil
		}
		// Report to the breaker but keep the result: the retry state
		// machine needs the captured response either way.
		return result, errors.New(result.errorMessage())
	})
	if result, ok := raw.(attemptResult); ok {
		return result
	}
	return attemptResult{err: err}
}

// canonicalPayload compacts the stored payload into the exact byte form
// emitted as the envelope's data field. Signing and serialization must
// agree on whitespace and escaping, so these bytes are the only ones the
// HMAC ever covers.
func canonicalPayload(payload json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return buf.Bytes(), nil
}

// attempt performs a single signed HTTP POST bounded by the subscription's
// timeout. The HMAC covers the canonical payload bytes, byte for byte the
// value of the envelope's data field on the wire.
func (p *Pool) attempt(ctx context.Context, sub *domain.Subscription, eventType domain.EventType, payload json.RawMessage, eventID string, attemptNumber int) attemptResult {
	start := p.clock.Now()

	canonical, err := canonicalPayload(payload)
	if err != nil {
		return attemptResult{err: err}
	}

	envelope := map[string]any{
		"id":        eventID,
		"eventType": eventType,
		"data":      canonical,
		"timestamp": start.UTC().Format(time.RFC3339),
		"attempt":   attemptNumber,
	}
	// The encoder must not HTML-escape, or the emitted data bytes would
	// diverge from the signed canonical form.
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(envelope); err != nil {
		return attemptResult{err: fmt.Errorf("build payload: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, sub.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.TargetURL, bytes.NewReader(body.Bytes()))
	if err != nil {
		return attemptResult{err: fmt.Errorf("create request: %w", err)}
	}

	for name, value := range sub.CustomHeaders {
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature.Sign(canonical, sub.Secret))
	req.Header.Set("X-Webhook-ID", sub.ID)
	req.Header.Set("X-Event-Type", string(eventType))

	resp, err := p.httpClient.Do(req)

	if p.metrics != nil {
		p.metrics.DeliveryAttempts.Inc()
		p.metrics.DeliveryDuration.Observe(p.clock.Now().Sub(start).Seconds())
	}

	if err != nil {
		return attemptResult{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	result := attemptResult{statusCode: &resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if len(raw) > 0 {
		s := string(raw)
		result.body = &s
	}
	return result
}

// throttle defers an attempt without consuming a retry attempt. The
// deferral is internal backpressure, not a delivery failure.
func (p *Pool) throttle(ctx context.Context, event *domain.DeliveryEvent, reason string, delay time.Duration) {
	next := p.clock.Now().Add(delay)
	event.ScheduleRetry(next)
	p.persistEvent(ctx, event)
	if p.metrics != nil {
		p.metrics.DeliveriesThrottled.Inc()
	}
	p.logger.Debug("delivery throttled",
		"event_id", event.ID,
		"reason", reason,
		"next_retry", next,
	)
	p.scheduleRequeue(event.ID, delay)
}

// scheduleRequeue arms a timer that re-enqueues the event after the delay.
// The timer belongs to the pool: Stop cancels it, and the event and its
// subscription are re-loaded before firing so deliveries to records
// deleted or deactivated in the interim are dropped.
func (p *Pool) scheduleRequeue(eventID string, delay time.Duration) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case <-p.ctx.Done():
			return
		case <-p.clock.After(delay):
		}

		event, err := p.eventRepo.GetByID(p.ctx, eventID)
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		if err != nil {
			p.logger.Error("failed to reload event for retry", "error", err, "event_id", eventID)
			return
		}
		if event.Terminal() {
			return
		}

		sub, err := p.subRepo.GetByID(p.ctx, event.SubscriptionID)
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		if err != nil {
			p.logger.Error("failed to reload subscription for retry", "error", err, "event_id", eventID)
			return
		}
		if !sub.Active {
			p.logger.Debug("skipping retry for inactive subscription",
				"event_id", eventID,
				"subscription_id", sub.ID,
			)
			return
		}

		select {
		case p.queue <- task{event: event, sub: sub}:
		case <-p.ctx.Done():
		}
	}()
}

func (p *Pool) persistEvent(ctx context.Context, event *domain.DeliveryEvent) {
	if err := p.eventRepo.Update(ctx, event); err != nil {
		p.logger.Error("failed to update delivery event", "error", err, "event_id", event.ID)
	}
}

func (p *Pool) incrementStats(ctx context.Context, subscriptionID string, outcome repository.StatsOutcome, at time.Time) {
	if err := p.subRepo.IncrementStats(ctx, subscriptionID, outcome, at); err != nil && !errors.Is(err, domain.ErrNotFound) {
		p.logger.Error("failed to update subscription stats", "error", err, "subscription_id", subscriptionID)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
