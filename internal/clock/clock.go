// Package clock abstracts the wall clock so that hold windows and expiry
// checks can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func NewRealClock() Clock {
	return &RealClock{}
}

// Now returns the current time in UTC; every timestamp persisted by the
// service is UTC.
func (c *RealClock) Now() time.Time {
	return time.Now().UTC()
}

// MockClock is a settable clock safe for use from concurrent goroutines.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTime
}

func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTime = t
}

func (c *MockClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTime = c.currentTime.Add(d)
}
