// Package clock abstracts time for deterministic tests of retry timing.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// MockClock is a virtual clock for tests. After fires immediately and
// jumps the clock to the timer's deadline, so timer-driven code observes
// time passing without real waiting.
type MockClock struct {
	mu      sync.Mutex
	NowTime time.Time
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.NowTime
}

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	m.NowTime = m.NowTime.Add(d)
	fireAt := m.NowTime
	m.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- fireAt
	return ch
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NowTime = m.NowTime.Add(d)
}
