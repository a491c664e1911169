// Package retry provides the delivery retry policy and the recovery
// poller that re-arms deliveries after a restart.
package retry

import (
	"math"
	"time"
)

// Policy turns a subscription's base retry delay into the wait before a
// given attempt.
//
// The compatible default is a fixed delay: the base interval reused
// unchanged on every attempt (Multiplier 1.0). A multiplier above 1.0
// switches to exponential backoff capped at MaxInterval; either way the
// delay is monotonically non-decreasing per attempt.
type Policy struct {
	Multiplier  float64
	MaxInterval time.Duration
}

// DefaultPolicy preserves the fixed-delay reference semantics.
func DefaultPolicy() Policy {
	return Policy{
		Multiplier:  1.0,
		MaxInterval: 1 * time.Hour,
	}
}

// Delay returns the wait before the given 1-based retry attempt, starting
// from the subscription's base delay.
func (p Policy) Delay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := p.Multiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}

	delay := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}
	return time.Duration(delay)
}

// NextAttemptTime returns when the given retry attempt should fire.
func (p Policy) NextAttemptTime(now time.Time, base time.Duration, attempt int) time.Time {
	return now.Add(p.Delay(base, attempt))
}
