package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RetentionWindow is how long delivery events are kept before automatic
// expiry, independent of their status.
const RetentionWindow = 30 * 24 * time.Hour

// DeliveryStatus is the state of one delivery event.
//
// Transitions are monotone: pending may move to success or failed, both
// terminal. Only an explicit manual retry re-arms a terminal event, which
// resets it to pending with zero attempts.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// DeliveryEvent is one fan-out instance of a triggered domain event
// addressed to a single subscription. A trigger matching N subscriptions
// produces N delivery events.
//
// Payload is opaque to the pipeline: its bytes are signed and transmitted
// unchanged, never inspected.
type DeliveryEvent struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      EventType       `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	Attempts       int             `json:"attempts"`
	LastAttempt    *time.Time      `json:"last_attempt,omitempty"`
	NextRetry      *time.Time      `json:"next_retry,omitempty"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   *string         `json:"response_body,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewDeliveryEvent creates a pending delivery event for one subscription.
func NewDeliveryEvent(subscriptionID string, eventType EventType, payload json.RawMessage, now time.Time) *DeliveryEvent {
	return &DeliveryEvent{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Payload:        payload,
		Status:         DeliveryStatusPending,
		CreatedAt:      now,
	}
}

// Terminal reports whether no further automatic attempts will occur.
func (e *DeliveryEvent) Terminal() bool {
	return e.Status == DeliveryStatusSuccess || e.Status == DeliveryStatusFailed
}

// MarkSuccess records a 2xx response and moves the event to its terminal
// success state.
func (e *DeliveryEvent) MarkSuccess(now time.Time, statusCode int, body string) {
	e.Attempts++
	e.Status = DeliveryStatusSuccess
	e.LastAttempt = &now
	e.NextRetry = nil
	e.ResponseStatus = &statusCode
	e.ResponseBody = &body
	e.Error = nil
}

// MarkAttemptFailed records a failed attempt. While attempts remain within
// maxRetries the event stays pending, awaiting a ScheduleRetry call;
// exhausting the bound moves it to the terminal failed state.
// Returns true when a retry is still due.
func (e *DeliveryEvent) MarkAttemptFailed(now time.Time, errMsg string, statusCode *int, body *string, maxRetries int) bool {
	e.Attempts++
	e.LastAttempt = &now
	e.Error = &errMsg
	e.ResponseStatus = statusCode
	e.ResponseBody = body

	if e.Attempts <= maxRetries {
		e.Status = DeliveryStatusPending
		return true
	}

	e.Status = DeliveryStatusFailed
	e.NextRetry = nil
	return false
}

// ScheduleRetry stamps when the next automatic attempt should fire.
func (e *DeliveryEvent) ScheduleRetry(next time.Time) {
	e.NextRetry = &next
}

// ResetForRetry re-arms the event for a manual retry, from any state.
func (e *DeliveryEvent) ResetForRetry() {
	e.Status = DeliveryStatusPending
	e.Attempts = 0
	e.NextRetry = nil
	e.Error = nil
}
