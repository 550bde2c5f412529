package enrichment

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/nninov/ngt/internal/clientdata"
	"github.com/nninov/ngt/internal/clients/openfigi"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDrainer(t *testing.T, limit int, clock Clock, lookup LookupFunc) (*Drainer, *QueueRepository, *clientdata.Repository) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue := NewQueueRepository(db, zerolog.Nop())
	require.NoError(t, queue.EnsureSchema())
	payloads := clientdata.NewRepository(db)
	require.NoError(t, payloads.EnsureSchema())

	limiter := NewWindowLimiter(limit, time.Minute, clock)
	return NewDrainer(queue, payloads, limiter, lookup, zerolog.Nop()), queue, payloads
}

func TestDrainRespectsRateLimitAcrossWindows(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	lookup := func(identifier, ccy string) ([]openfigi.SearchResult, error) {
		calls++
		return []openfigi.SearchResult{{FIGI: identifier, SecurityType: "Common Stock"}}, nil
	}

	drainer, queue, _ := setupDrainer(t, 20, clock, lookup)
	for i := 0; i < 45; i++ {
		_, err := queue.Enqueue(fmt.Sprintf("BBG%04d", i), "USD")
		require.NoError(t, err)
	}

	stats, err := drainer.Drain(0)
	require.NoError(t, err)

	assert.Equal(t, 45, calls, "every entry gets exactly one lookup")
	assert.Equal(t, 45, stats.Completed)
	// 20 calls fill the first window, the limiter sleeps it out, 20 more
	// fill the second, another sleep, then the final 5.
	assert.Len(t, clock.sleeps, 2)

	pending, err := queue.Pending(0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainStoresPayloadBeforeCompleting(t *testing.T) {
	lookup := func(identifier, ccy string) ([]openfigi.SearchResult, error) {
		return []openfigi.SearchResult{{FIGI: identifier, MarketSector: "Equity"}}, nil
	}
	drainer, queue, payloads := setupDrainer(t, 20, newFakeClock(), lookup)
	_, err := queue.Enqueue("BBG000N9MNX3", "USD")
	require.NoError(t, err)

	_, err = drainer.Drain(0)
	require.NoError(t, err)

	raw, err := payloads.Get("BBG000N9MNX3", "USD")
	require.NoError(t, err)
	assert.NotNil(t, raw)

	unapplied, err := queue.CompletedUnapplied()
	require.NoError(t, err)
	assert.Len(t, unapplied, 1)
}

func TestDrainMarksNotFound(t *testing.T) {
	lookup := func(identifier, ccy string) ([]openfigi.SearchResult, error) {
		return nil, nil
	}
	drainer, queue, _ := setupDrainer(t, 20, newFakeClock(), lookup)
	_, err := queue.Enqueue("UNKNOWN", "USD")
	require.NoError(t, err)

	stats, err := drainer.Drain(0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotFound)
	assert.Equal(t, 1, stats.Completed)

	// Not-found entries are terminal: never re-drained, never applied.
	pending, err := queue.Pending(0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	unapplied, err := queue.CompletedUnapplied()
	require.NoError(t, err)
	assert.Empty(t, unapplied)
}

func TestDrainLeavesFailedLookupsPending(t *testing.T) {
	lookup := func(identifier, ccy string) ([]openfigi.SearchResult, error) {
		if identifier == "BROKEN" {
			return nil, errors.New("connection reset")
		}
		return []openfigi.SearchResult{{FIGI: identifier}}, nil
	}
	drainer, queue, _ := setupDrainer(t, 20, newFakeClock(), lookup)
	_, err := queue.Enqueue("BROKEN", "USD")
	require.NoError(t, err)
	_, err = queue.Enqueue("FINE", "USD")
	require.NoError(t, err)

	stats, err := drainer.Drain(0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Completed)

	pending, err := queue.Pending(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "BROKEN", pending[0].Identifier)
}

func TestDrainBatchLimit(t *testing.T) {
	lookup := func(identifier, ccy string) ([]openfigi.SearchResult, error) {
		return []openfigi.SearchResult{{FIGI: identifier}}, nil
	}
	drainer, queue, _ := setupDrainer(t, 20, newFakeClock(), lookup)
	for i := 0; i < 5; i++ {
		_, err := queue.Enqueue(fmt.Sprintf("BBG%04d", i), "USD")
		require.NoError(t, err)
	}

	stats, err := drainer.Drain(3)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Completed)

	pending, err := queue.Pending(0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
