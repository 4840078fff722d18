package testutil

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// AssertNoGoroutineLeaks checks that the goroutine count returns to baseline within a deadline.
func AssertNoGoroutineLeaks(t *testing.T, baseline int, margin int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		current := runtime.NumGoroutine()
		if current <= baseline+margin {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("goroutine leak: baseline=%d, current=%d, margin=%d", baseline, runtime.NumGoroutine(), margin)
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %s waiting for %s", timeout, what)
}

// StepClock returns a fixed sequence of times, advancing by Step on every call.
type StepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStepClock creates a clock whose first reading is start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{next: start, step: step}
}

// Now returns the current reading and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Peek returns the next reading without advancing.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
