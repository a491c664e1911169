package resilience

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiterManager_Allow(t *testing.T) {
	config := RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         2,
	}
	manager := NewRateLimiterManager(config)

	subID := "sub-allow"

	if !manager.Allow(subID) {
		t.Error("first delivery should be allowed")
	}
	if !manager.Allow(subID) {
		t.Error("second delivery should be allowed (burst)")
	}
	if manager.Allow(subID) {
		t.Error("third delivery should be rate limited")
	}
}

func TestRateLimiterManager_PerSubscriptionIsolation(t *testing.T) {
	config := RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
	}
	manager := NewRateLimiterManager(config)

	if !manager.Allow("sub-a") {
		t.Error("first delivery for sub-a should be allowed")
	}
	if manager.Allow("sub-a") {
		t.Error("sub-a should be rate limited")
	}
	if !manager.Allow("sub-b") {
		t.Error("sub-b has its own bucket and should be allowed")
	}
}

func TestRateLimiterManager_Wait(t *testing.T) {
	config := RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
	}
	manager := NewRateLimiterManager(config)

	subID := "sub-wait"
	manager.Allow(subID)

	if delay := manager.Wait(subID); delay <= 0 || delay > time.Second {
		t.Errorf("expected a wait within one second, got %v", delay)
	}
}

func TestRateLimiterManager_ConcurrentAccess(t *testing.T) {
	manager := NewRateLimiterManager(DefaultRateLimiterConfig())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.Allow("sub-concurrent")
		}()
	}
	wg.Wait()
}

func TestRateLimiterManager_Remove(t *testing.T) {
	config := RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
	}
	manager := NewRateLimiterManager(config)

	subID := "sub-remove"

	manager.Allow(subID)
	if manager.Allow(subID) {
		t.Error("should be rate limited")
	}

	manager.Remove(subID)

	if !manager.Allow(subID) {
		t.Error("after remove, a fresh limiter should allow")
	}
}
