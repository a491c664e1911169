package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// The circuit breaker stops hammering destinations that are down. Per
// subscription it moves between three states:
//
//	[Closed] ---(failure ratio reached)---> [Open]
//	[Open] ---(timeout expires)---> [Half-Open]
//	[Half-Open] ---(success)---> [Closed]
//	[Half-Open] ---(failure)---> [Open]
//
// While open, delivery attempts are rejected immediately and rescheduled
// without consuming a retry attempt.

// CircuitBreakerConfig defines the breaker behavior.
//
// MaxRequests is the number of probe requests allowed in half-open state.
// Interval is the cyclic period for clearing counts while closed.
// Timeout is how long to stay open before probing again.
// FailureRatio trips the breaker once MinRequests have been observed.
type CircuitBreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:  5,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

// CircuitState is the observable state of one subscription's breaker.
type CircuitState string

const (
	CircuitStateClosed   CircuitState = "closed"
	CircuitStateOpen     CircuitState = "open"
	CircuitStateHalfOpen CircuitState = "half-open"
)

// CircuitBreakerManager maintains one independent breaker per subscription
// so a single failing destination cannot affect healthy ones.
type CircuitBreakerManager struct {
	config   CircuitBreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
	mu       sync.RWMutex

	onStateChange func(subscriptionID string, from, to CircuitState)
}

func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// OnStateChange registers a callback for breaker transitions, used to emit
// metrics when a destination starts or stops failing.
func (m *CircuitBreakerManager) OnStateChange(fn func(subscriptionID string, from, to CircuitState)) {
	m.onStateChange = fn
}

func (m *CircuitBreakerManager) getBreaker(subscriptionID string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[subscriptionID]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists = m.breakers[subscriptionID]; exists {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        subscriptionID,
		MaxRequests: m.config.MaxRequests,
		Interval:    m.config.Interval,
		Timeout:     m.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < m.config.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= m.config.FailureRatio
		},
	}
	if m.onStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			m.onStateChange(name, toCircuitState(from), toCircuitState(to))
		}
	}

	cb = gobreaker.NewCircuitBreaker(settings)
	m.breakers[subscriptionID] = cb
	return cb
}

// Execute runs a delivery attempt through the subscription's breaker.
// ErrOpenState and ErrTooManyRequests from gobreaker mean the attempt was
// rejected without running.
func (m *CircuitBreakerManager) Execute(subscriptionID string, fn func() (any, error)) (any, error) {
	return m.getBreaker(subscriptionID).Execute(fn)
}

// State returns the current breaker state for a subscription.
func (m *CircuitBreakerManager) State(subscriptionID string) CircuitState {
	return toCircuitState(m.getBreaker(subscriptionID).State())
}

// Remove drops the breaker for a deleted subscription.
func (m *CircuitBreakerManager) Remove(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, subscriptionID)
}

func toCircuitState(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitStateOpen
	case gobreaker.StateHalfOpen:
		return CircuitStateHalfOpen
	default:
		return CircuitStateClosed
	}
}
