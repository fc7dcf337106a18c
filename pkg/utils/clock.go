// Package utils holds the logging, timing and clock helpers shared across romc.
package utils

import "time"

// Clock abstracts the wall clock so timers and loggers can be tested.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock reads the system clock.
type RealClock struct{}

// NewRealClock returns the system clock.
func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time                  { return time.Now() }
func (c *RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// MockClock is a manually advanced clock for tests.
type MockClock struct {
	current time.Time
}

// NewMockClock creates a MockClock starting at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (c *MockClock) Now() time.Time                  { return c.current }
func (c *MockClock) Since(t time.Time) time.Duration { return c.current.Sub(t) }

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

// Set moves the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.current = t
}
