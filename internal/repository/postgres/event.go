// Package postgres implements the persistence contracts with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitestock/webhooks/internal/domain"
	"github.com/sitestock/webhooks/internal/repository"
)

const eventColumns = `
	id, subscription_id, event_type, payload, status, attempts,
	last_attempt, next_retry, response_status, response_body, error, created_at
`

type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) Create(ctx context.Context, event *domain.DeliveryEvent) error {
	const query = `
		INSERT INTO delivery_events (
			id, subscription_id, event_type, payload, status, attempts, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.SubscriptionID,
		string(event.EventType),
		event.Payload,
		string(event.Status),
		event.Attempts,
		event.CreatedAt,
	)
	return err
}

// CreateBatch inserts one trigger's fan-out in a single multi-row insert.
// PostgreSQL caps statements at 65535 parameters, so large fan-outs are
// chunked.
func (r *EventRepository) CreateBatch(ctx context.Context, events []*domain.DeliveryEvent) error {
	const maxEventsPerInsert = 5000

	for start := 0; start < len(events); start += maxEventsPerInsert {
		end := start + maxEventsPerInsert
		if end > len(events) {
			end = len(events)
		}
		if err := r.createBatchChunk(ctx, events[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *EventRepository) createBatchChunk(ctx context.Context, events []*domain.DeliveryEvent) error {
	if len(events) == 0 {
		return nil
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		INSERT INTO delivery_events (
			id, subscription_id, event_type, payload, status, attempts, created_at
		)
		VALUES `)

	args := make([]any, 0, len(events)*7)
	for i, e := range events {
		if i > 0 {
			queryBuilder.WriteString(", ")
		}
		base := i * 7
		queryBuilder.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7))

		args = append(args,
			e.ID,
			e.SubscriptionID,
			string(e.EventType),
			e.Payload,
			string(e.Status),
			e.Attempts,
			e.CreatedAt,
		)
	}

	_, err := r.pool.Exec(ctx, queryBuilder.String(), args...)
	return err
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*domain.DeliveryEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM delivery_events WHERE id = $1`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (r *EventRepository) ListBySubscription(ctx context.Context, subscriptionID string, filter repository.EventFilter) ([]*domain.DeliveryEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM delivery_events WHERE subscription_id = $1`
	args := []any{subscriptionID}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Skip > 0 {
		args = append(args, filter.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.DeliveryEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *EventRepository) CountBySubscription(ctx context.Context, subscriptionID string) (repository.StatusCounts, error) {
	const query = `
		SELECT status, COUNT(*)
		FROM delivery_events
		WHERE subscription_id = $1
		GROUP BY status
	`

	rows, err := r.pool.Query(ctx, query, subscriptionID)
	if err != nil {
		return repository.StatusCounts{}, err
	}
	defer rows.Close()

	var counts repository.StatusCounts
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return repository.StatusCounts{}, err
		}
		switch domain.DeliveryStatus(status) {
		case domain.DeliveryStatusPending:
			counts.Pending = n
		case domain.DeliveryStatusSuccess:
			counts.Success = n
		case domain.DeliveryStatusFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

func (r *EventRepository) Update(ctx context.Context, event *domain.DeliveryEvent) error {
	const query = `
		UPDATE delivery_events
		SET status = $2, attempts = $3, last_attempt = $4, next_retry = $5,
		    response_status = $6, response_body = $7, error = $8
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		event.ID,
		string(event.Status),
		event.Attempts,
		event.LastAttempt,
		event.NextRetry,
		event.ResponseStatus,
		event.ResponseBody,
		event.Error,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Claim wins delivery ownership of a due pending event. The conditional
// update both checks that the event is still up for grabs and pushes
// next_retry out to the lease horizon, so a concurrent claimer sees a
// future next_retry and loses.
func (r *EventRepository) Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	const query = `
		UPDATE delivery_events
		SET next_retry = $2
		WHERE id = $1
		  AND status = 'pending'
		  AND (next_retry IS NULL OR next_retry <= $3)
	`

	result, err := r.pool.Exec(ctx, query, id, leaseUntil, now)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *EventRepository) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*domain.DeliveryEvent, error) {
	const query = `
		SELECT ` + eventColumns + `
		FROM delivery_events
		WHERE status = 'pending'
		  AND (
			(next_retry IS NOT NULL AND next_retry <= $1)
			OR (next_retry IS NULL AND last_attempt IS NULL AND created_at <= $2)
		  )
		ORDER BY next_retry NULLS FIRST, created_at
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, now, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.DeliveryEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *EventRepository) DeleteBySubscription(ctx context.Context, subscriptionID string) error {
	const query = `DELETE FROM delivery_events WHERE subscription_id = $1`

	_, err := r.pool.Exec(ctx, query, subscriptionID)
	return err
}

func (r *EventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM delivery_events WHERE created_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func scanEvent(row rowScanner) (*domain.DeliveryEvent, error) {
	var (
		event     domain.DeliveryEvent
		eventType string
		status    string
	)
	err := row.Scan(
		&event.ID,
		&event.SubscriptionID,
		&eventType,
		&event.Payload,
		&status,
		&event.Attempts,
		&event.LastAttempt,
		&event.NextRetry,
		&event.ResponseStatus,
		&event.ResponseBody,
		&event.Error,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.EventType = domain.EventType(eventType)
	event.Status = domain.DeliveryStatus(status)
	return &event, nil
}
