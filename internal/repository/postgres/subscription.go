package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitestock/webhooks/internal/domain"
	"github.com/sitestock/webhooks/internal/repository"
)

const subscriptionColumns = `
	id, owner_id, target_url, event_types, filters, secret, custom_headers,
	max_retries, retry_delay_ms, timeout_ms, active,
	total_events, successful_deliveries, failed_deliveries,
	last_delivery, last_failure, created_at, updated_at
`

type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	const query = `
		INSERT INTO subscriptions (
			id, owner_id, target_url, event_types, filters, secret, custom_headers,
			max_retries, retry_delay_ms, timeout_ms, active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.pool.Exec(ctx, query,
		sub.ID,
		sub.OwnerID,
		sub.TargetURL,
		eventTypeStrings(sub.EventTypes),
		sub.Filters,
		sub.Secret,
		sub.CustomHeaders,
		sub.RetryPolicy.MaxRetries,
		sub.RetryPolicy.RetryDelay.Milliseconds(),
		sub.Timeout.Milliseconds(),
		sub.Active,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	return err
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *SubscriptionRepository) ListByOwner(ctx context.Context, ownerID string, active *bool) ([]*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE owner_id = $1`
	args := []any{ownerID}
	if active != nil {
		query += ` AND active = $2`
		args = append(args, *active)
	}
	query += ` ORDER BY created_at`

	return r.list(ctx, query, args...)
}

func (r *SubscriptionRepository) ListActive(ctx context.Context) ([]*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE active = TRUE ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *SubscriptionRepository) ListActiveByEventType(ctx context.Context, eventType domain.EventType) ([]*domain.Subscription, error) {
	// The active set is small; scan it and filter by containment,
	// keeping this consistent with what the dispatcher caches.
	subs, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*domain.Subscription
	for _, sub := range subs {
		if sub.SubscribesTo(eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// Update persists mutable fields. Secret and the statistics columns are
// deliberately excluded: the secret is immutable and the counters are only
// written through IncrementStats.
func (r *SubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	const query = `
		UPDATE subscriptions
		SET target_url = $2, event_types = $3, filters = $4, custom_headers = $5,
		    max_retries = $6, retry_delay_ms = $7, timeout_ms = $8, active = $9,
		    updated_at = $10
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		sub.ID,
		sub.TargetURL,
		eventTypeStrings(sub.EventTypes),
		sub.Filters,
		sub.CustomHeaders,
		sub.RetryPolicy.MaxRetries,
		sub.RetryPolicy.RetryDelay.Milliseconds(),
		sub.Timeout.Milliseconds(),
		sub.Active,
		sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the subscription; the events table cascades via its
// foreign key.
func (r *SubscriptionRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM subscriptions WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SubscriptionRepository) IncrementStats(ctx context.Context, id string, outcome repository.StatsOutcome, at time.Time) error {
	var query string
	switch outcome {
	case repository.StatsOutcomeSuccess:
		query = `
			UPDATE subscriptions
			SET total_events = total_events + 1,
			    successful_deliveries = successful_deliveries + 1,
			    last_delivery = $2
			WHERE id = $1
		`
	case repository.StatsOutcomeFailure:
		query = `
			UPDATE subscriptions
			SET total_events = total_events + 1,
			    failed_deliveries = failed_deliveries + 1,
			    last_failure = $2
			WHERE id = $1
		`
	default:
		return fmt.Errorf("unknown stats outcome %q", outcome)
	}

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SubscriptionRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var (
		sub          domain.Subscription
		types        []string
		retryDelayMs int64
		timeoutMs    int64
	)
	err := row.Scan(
		&sub.ID,
		&sub.OwnerID,
		&sub.TargetURL,
		&types,
		&sub.Filters,
		&sub.Secret,
		&sub.CustomHeaders,
		&sub.RetryPolicy.MaxRetries,
		&retryDelayMs,
		&timeoutMs,
		&sub.Active,
		&sub.Stats.TotalEvents,
		&sub.Stats.SuccessfulDeliveries,
		&sub.Stats.FailedDeliveries,
		&sub.Stats.LastDelivery,
		&sub.Stats.LastFailure,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.EventTypes = make([]domain.EventType, len(types))
	for i, t := range types {
		sub.EventTypes[i] = domain.EventType(t)
	}
	sub.RetryPolicy.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	sub.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return &sub, nil
}

func eventTypeStrings(types []domain.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
