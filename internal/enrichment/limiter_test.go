package enrichment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock advances virtually; Sleep moves time forward instead of waiting.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func TestLimiterWithinBudgetNeverSleeps(t *testing.T) {
	clock := newFakeClock()
	limiter := NewWindowLimiter(20, time.Minute, clock)

	for i := 0; i < 20; i++ {
		limiter.Acquire()
	}

	assert.Empty(t, clock.sleeps)
	assert.Equal(t, 0, limiter.Remaining())
}

func TestLimiterSleepsOutWindowWhenExhausted(t *testing.T) {
	clock := newFakeClock()
	limiter := NewWindowLimiter(20, time.Minute, clock)

	for i := 0; i < 21; i++ {
		limiter.Acquire()
	}

	assert.Len(t, clock.sleeps, 1)
	assert.Equal(t, time.Minute, clock.sleeps[0])
	assert.Equal(t, 19, limiter.Remaining())
}

func TestLimiterWindowExpiryResetsBudget(t *testing.T) {
	clock := newFakeClock()
	limiter := NewWindowLimiter(20, time.Minute, clock)

	for i := 0; i < 20; i++ {
		limiter.Acquire()
	}
	clock.now = clock.now.Add(time.Minute)

	limiter.Acquire()
	assert.Empty(t, clock.sleeps)
	assert.Equal(t, 19, limiter.Remaining())
}
