// Package testutil holds small fakes shared across package tests.
package testutil

import (
	"sync"
	"time"
)

// StubClock is a clock.Clock whose time only moves when told to,
// letting tests exercise sliding-expiry and retention logic
// deterministically.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock returns a StubClock fixed at t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock at t.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
