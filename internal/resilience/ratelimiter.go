// Package resilience protects webhook destinations from overload and the
// pipeline from destinations that are down.
//
// It uses:
//   - golang.org/x/time/rate: token bucket rate limiter from the Go team.
//   - github.com/sony/gobreaker: circuit breaker implementation by Sony.
package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig defines the per-destination rate limiting parameters.
//
// RequestsPerSecond controls the steady-state rate of allowed deliveries.
// BurstSize allows temporary spikes above the rate limit.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 100,
		BurstSize:         10,
	}
}

// RateLimiterManager maintains one token bucket per subscription so a slow
// destination cannot starve deliveries to others.
// Limiters are created lazily with double-checked locking.
type RateLimiterManager struct {
	config   RateLimiterConfig
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

func NewRateLimiterManager(config RateLimiterConfig) *RateLimiterManager {
	return &RateLimiterManager{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (m *RateLimiterManager) getLimiter(subscriptionID string) *rate.Limiter {
	m.mu.RLock()
	limiter, exists := m.limiters[subscriptionID]
	m.mu.RUnlock()

	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists = m.limiters[subscriptionID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(m.config.RequestsPerSecond), m.config.BurstSize)
	m.limiters[subscriptionID] = limiter
	return limiter
}

// Allow reports whether a delivery for the subscription may proceed now.
func (m *RateLimiterManager) Allow(subscriptionID string) bool {
	return m.getLimiter(subscriptionID).Allow()
}

// Wait returns how long the caller would need to wait before the next
// delivery would be allowed.
func (m *RateLimiterManager) Wait(subscriptionID string) time.Duration {
	limiter := m.getLimiter(subscriptionID)
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return 0
	}
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

// Remove drops the limiter for a deleted subscription, freeing memory.
func (m *RateLimiterManager) Remove(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limiters, subscriptionID)
}
