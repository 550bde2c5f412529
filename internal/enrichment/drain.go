package enrichment

import (
	"errors"

	"github.com/nninov/ngt/internal/clientdata"
	"github.com/nninov/ngt/internal/clients/openfigi"
	"github.com/nninov/ngt/internal/domain"
	"github.com/rs/zerolog"
)

// LookupFunc resolves an identifier against the external lookup service.
// An empty result slice means the service knows nothing about the
// identifier; an error means the attempt itself failed.
type LookupFunc func(identifier, ccy string) ([]openfigi.SearchResult, error)

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Completed int // entries marked completed (found or not found)
	NotFound  int // completed with found=false
	Failed    int // lookup attempts that failed; entries left incomplete
	Raced     int // completion races lost to a concurrent drain
}

// Drainer consumes pending queue entries under the rate limit.
type Drainer struct {
	queue    *QueueRepository
	payloads *clientdata.Repository
	limiter  *WindowLimiter
	lookup   LookupFunc
	log      zerolog.Logger
}

// NewDrainer creates a drainer over the given queue and payload store.
func NewDrainer(queue *QueueRepository, payloads *clientdata.Repository, limiter *WindowLimiter, lookup LookupFunc, log zerolog.Logger) *Drainer {
	return &Drainer{
		queue:    queue,
		payloads: payloads,
		limiter:  limiter,
		lookup:   lookup,
		log:      log.With().Str("component", "drain").Logger(),
	}
}

// Drain pops entries with no completion timestamp and resolves them through
// the lookup service, at most batchLimit per call (<= 0 for all pending).
// Every step re-checks persisted state, so an aborted drain is safe to
// re-run: completed entries are never popped again, and a lost completion
// race is swallowed.
func (d *Drainer) Drain(batchLimit int) (DrainStats, error) {
	var stats DrainStats

	entries, err := d.queue.Pending(batchLimit)
	if err != nil {
		return stats, err
	}
	if len(entries) == 0 {
		d.log.Debug().Msg("No pending lookups to drain")
		return stats, nil
	}

	d.log.Info().Int("pending", len(entries)).Msg("Draining enrichment queue")

	for _, entry := range entries {
		d.limiter.Acquire()

		results, err := d.lookup(entry.Identifier, entry.Currency)
		if err != nil {
			// Transient failure: leave the entry incomplete so a future
			// drain retries it.
			lookupErr := domain.ExternalLookupFailure{Identifier: entry.Identifier, Err: err}
			d.log.Warn().Err(lookupErr).Str("identifier", entry.Identifier).Msg("Lookup failed, entry left pending")
			stats.Failed++
			continue
		}

		found := len(results) > 0
		if found {
			if err := d.payloads.Store(entry.Identifier, entry.Currency, results); err != nil {
				// Without the payload the completion would be unusable;
				// treat like a failed attempt.
				d.log.Warn().Err(err).Str("identifier", entry.Identifier).Msg("Failed to store payload, entry left pending")
				stats.Failed++
				continue
			}
		} else {
			d.log.Warn().Str("identifier", entry.Identifier).Msg("No data found for identifier")
			stats.NotFound++
		}

		if err := d.queue.Complete(entry.Identifier, entry.Currency, found); err != nil {
			var raced domain.AlreadyCompletedError
			if errors.As(err, &raced) {
				d.log.Debug().Str("identifier", entry.Identifier).Msg("Entry completed by a concurrent drain")
				stats.Raced++
				continue
			}
			return stats, err
		}
		stats.Completed++
	}

	d.log.Info().
		Int("completed", stats.Completed).
		Int("not_found", stats.NotFound).
		Int("failed", stats.Failed).
		Msg("Drain pass finished")

	return stats, nil
}
