package worker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/sitestock/webhooks/internal/domain"
)

// TestResult is the synchronous outcome of a synthetic test delivery.
type TestResult struct {
	Delivered    bool    `json:"delivered"`
	StatusCode   *int    `json:"status_code,omitempty"`
	ResponseBody *string `json:"response_body,omitempty"`
	Error        *string `json:"error,omitempty"`
	DurationMs   int64   `json:"duration_ms"`
}

// SendTest performs a one-shot signed delivery to the subscription's
// target, bypassing the event log and the retry machinery. The result is
// returned to the caller instead of being recorded.
func (p *Pool) SendTest(ctx context.Context, sub *domain.Subscription, eventType domain.EventType, payload json.RawMessage) TestResult {
	if payload == nil {
		payload = json.RawMessage(`{"test":true}`)
	}

	start := p.clock.Now()
	result := p.attempt(ctx, sub, eventType, payload, uuid.NewString(), 1)
	duration := p.clock.Now().Sub(start)

	out := TestResult{
		Delivered:    result.success(),
		StatusCode:   result.statusCode,
		ResponseBody: result.body,
		DurationMs:   duration.Milliseconds(),
	}
	if !result.success() {
		msg := result.errorMessage()
		out.Error = &msg
	}
	return out
}
