package enrichment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nninov/ngt/internal/clientdata"
	"github.com/nninov/ngt/internal/clients/openfigi"
	"github.com/nninov/ngt/internal/domain"
	"github.com/nninov/ngt/internal/securities"
	"github.com/rs/zerolog"
)

// ApplyStats summarises one applier pass.
type ApplyStats struct {
	Applied int
	Failed  int
}

// Applier folds fetched reference payloads into the security master.
type Applier struct {
	queue    *QueueRepository
	payloads *clientdata.Repository
	master   *securities.Repository
	log      zerolog.Logger
}

// NewApplier creates a reference applier.
func NewApplier(queue *QueueRepository, payloads *clientdata.Repository, master *securities.Repository, log zerolog.Logger) *Applier {
	return &Applier{
		queue:    queue,
		payloads: payloads,
		master:   master,
		log:      log.With().Str("component", "reference_applier").Logger(),
	}
}

// ApplyCompleted applies every completed, found, not-yet-applied queue entry.
// Entries whose payload or master row is missing are logged and left for the
// next pass.
func (a *Applier) ApplyCompleted() (ApplyStats, error) {
	var stats ApplyStats

	entries, err := a.queue.CompletedUnapplied()
	if err != nil {
		return stats, err
	}

	for _, entry := range entries {
		if err := a.Apply(entry); err != nil {
			stats.Failed++
			a.log.Error().Err(err).
				Str("identifier", entry.Identifier).
				Str("ccy", entry.Currency).
				Msg("Failed to apply reference data")
			continue
		}
		stats.Applied++
	}

	if stats.Applied > 0 || stats.Failed > 0 {
		a.log.Info().
			Int("applied", stats.Applied).
			Int("failed", stats.Failed).
			Msg("Reference apply pass finished")
	}
	return stats, nil
}

// Apply folds one entry's payload into its security-master row and marks the
// entry applied. Entries that are not completed-and-found, or already
// applied, are no-ops.
func (a *Applier) Apply(entry domain.QueueEntry) error {
	if entry.Found == nil || !*entry.Found || entry.AppliedAt != nil {
		return nil
	}

	raw, err := a.payloads.Get(entry.Identifier, entry.Currency)
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("no stored payload for %s/%s", entry.Identifier, entry.Currency)
	}
	var results []openfigi.SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("failed to decode payload for %s: %w", entry.Identifier, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("empty payload for %s/%s", entry.Identifier, entry.Currency)
	}

	sec, err := a.master.GetByFigi(entry.Identifier, entry.Currency)
	if err != nil {
		return err
	}
	if sec == nil {
		return domain.MissingReferenceRowError{Identifier: entry.Identifier, Currency: entry.Currency}
	}

	merge(sec, results[0])

	if err := a.master.Update(sec); err != nil {
		return err
	}
	if err := a.queue.MarkApplied(entry.Identifier, entry.Currency); err != nil {
		// A concurrent pass won the applied-at guard. The master row holds
		// the same payload either way.
		var raced domain.AlreadyCompletedError
		if errors.As(err, &raced) {
			return nil
		}
		return err
	}
	return nil
}

// merge applies one search result to a master row. Derived classification
// fields are always taken from the payload, even when it carries an empty
// value; descriptive fields only fill gaps, never overwrite upstream data.
func merge(sec *securities.Security, res openfigi.SearchResult) {
	sec.SecurityType = res.SecurityType
	sec.SecurityType2 = res.SecurityType2
	sec.Instrument.YellowKeyCode = res.MarketSector
	if sec.Instrument.SecurityName == "" && res.Name != "" {
		sec.Instrument.SecurityName = res.Name
	}
}
