// Package enrichment manages the queue of outstanding external-identifier
// lookups: rate-limited draining against the lookup service, payload
// capture, and application of completed lookups to the security master.
package enrichment

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so the limiter can be tested with a
// virtual clock instead of real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// NewRealClock returns a Clock backed by the system clock.
func NewRealClock() Clock { return realClock{} }

// WindowLimiter grants at most limit acquisitions per rolling window.
// Acquire blocks (coarsely, by sleeping out the remainder of the window)
// once the budget is spent. The guarantee is "never more than limit calls
// inside one window", not fairness or minimal latency.
type WindowLimiter struct {
	limit  int
	window time.Duration
	clock  Clock

	mu          sync.Mutex
	windowStart time.Time
	used        int
}

// NewWindowLimiter creates a limiter for limit acquisitions per window.
func NewWindowLimiter(limit int, window time.Duration, clock Clock) *WindowLimiter {
	if clock == nil {
		clock = realClock{}
	}
	return &WindowLimiter{limit: limit, window: window, clock: clock}
}

// Acquire blocks until a slot inside the current window is available and
// consumes it.
func (l *WindowLimiter) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.used = 0
	}

	if l.used >= l.limit {
		// Sleep out the remainder of the window, then open a fresh one.
		remaining := l.window - now.Sub(l.windowStart)
		if remaining > 0 {
			l.clock.Sleep(remaining)
		}
		l.windowStart = l.clock.Now()
		l.used = 0
	}

	l.used++
}

// Remaining reports how many acquisitions are left in the current window.
func (l *WindowLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowStart.IsZero() || l.clock.Now().Sub(l.windowStart) >= l.window {
		return l.limit
	}
	return l.limit - l.used
}
