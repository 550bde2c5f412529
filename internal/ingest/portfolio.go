package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/nninov/ngt/internal/domain"
	"github.com/nninov/ngt/internal/enrichment"
	"github.com/nninov/ngt/internal/hitl"
	"github.com/nninov/ngt/internal/identity"
	"github.com/nninov/ngt/internal/instruments"
	"github.com/nninov/ngt/internal/ledger"
	"github.com/nninov/ngt/internal/securities"
	"github.com/nninov/ngt/internal/validation"
	"github.com/rs/zerolog"
)

// PortfolioStats summarizes one portfolio ingestion run.
type PortfolioStats struct {
	Read        int // rows parsed from the source file
	NoIdentity  int // rows excluded because no identity could be derived
	New         int // rows not seen by the ledger before
	Dropped     int // zero-quantity rows removed
	Consistent  int // rows that passed validation
	Faulty      int // faulty rows raised
	Instruments int // new securities added to the master
	Enqueued    int // new external lookups queued
}

// PortfolioPipeline ingests portfolio holding drops end to end.
type PortfolioPipeline struct {
	raw       *ledger.Repository
	processed *ProcessedStore
	faulty    *hitl.Repository
	master    *securities.Repository
	queue     *enrichment.QueueRepository
	log       zerolog.Logger
}

// NewPortfolioPipeline wires the portfolio ingestion flow.
func NewPortfolioPipeline(raw *ledger.Repository, processed *ProcessedStore, faulty *hitl.Repository,
	master *securities.Repository, queue *enrichment.QueueRepository, log zerolog.Logger) *PortfolioPipeline {
	return &PortfolioPipeline{
		raw:       raw,
		processed: processed,
		faulty:    faulty,
		master:    master,
		queue:     queue,
		log:       log.With().Str("component", "portfolio_pipeline").Logger(),
	}
}

// Run ingests one portfolio file. fileDate is the drop's calendar date; the
// holdings themselves are as of the preceding business day, which becomes
// part of every identity.
func (p *PortfolioPipeline) Run(path string, fileDate time.Time) (PortfolioStats, error) {
	var stats PortfolioStats
	log := p.log.With().Str("run_id", uuid.NewString()).Str("file", path).Logger()

	rows, err := ReadTable(path)
	if err != nil {
		return stats, err
	}
	stats.Read = len(rows)

	businessDate := PreviousBusinessDay(fileDate)
	records := parsePortfolioRows(rows, businessDate)

	keyed := make([]domain.PortfolioRecord, 0, len(records))
	for _, rec := range records {
		id, err := identity.Portfolio(rec)
		if err != nil {
			stats.NoIdentity++
			log.Warn().Err(err).Str("security", rec.SecurityName).Msg("Record excluded, no identity")
			continue
		}
		rec.ID = id
		keyed = append(keyed, rec)
	}

	fresh, present, err := ledger.FilterNew(p.raw, ledger.CollectionPortfolios, keyed)
	if err != nil {
		return stats, err
	}
	stats.New = len(fresh)
	if len(fresh) == 0 {
		log.Info().Int("seen_before", len(present)).Msg("No new portfolio rows in drop")
		return stats, nil
	}

	docs := make([]ledger.Document, len(fresh))
	for i, rec := range fresh {
		docs[i] = rec
	}
	if err := p.raw.Append(ledger.CollectionPortfolios, docs); err != nil {
		return stats, err
	}

	derived, dropped, err := p.derive(fresh)
	if err != nil {
		return stats, err
	}
	stats.Dropped = dropped

	consistent, faultyRows := validation.Split(derived, validation.PortfolioRules(), time.Now().UTC())
	stats.Consistent = len(consistent)
	stats.Faulty = len(faultyRows)

	if _, err := p.faulty.Record(hitl.CollectionPortfolios, faultyRows); err != nil {
		return stats, err
	}

	processedDocs := make(map[string]map[string]string, len(consistent))
	for _, rec := range consistent {
		processedDocs[rec.ID] = rec.Document()
	}
	if err := p.processed.Upsert(ProcessedPortfolios, processedDocs); err != nil {
		return stats, err
	}

	if stats.Instruments, stats.Enqueued, err = p.instrumentFlow(consistent); err != nil {
		return stats, err
	}

	log.Info().
		Int("read", stats.Read).
		Int("new", stats.New).
		Int("consistent", stats.Consistent).
		Int("faulty", stats.Faulty).
		Int("instruments", stats.Instruments).
		Int("enqueued", stats.Enqueued).
		Str("date", businessDate.Format(domain.DateFormat)).
		Msg("Portfolio drop ingested")
	return stats, nil
}

// derive applies the derived columns: zero-quantity rows are dropped, the
// position side comes from the quantity sign, country names are joined from
// the mapping table, and descriptive gaps are filled from sibling rows of
// the same instrument.
func (p *PortfolioPipeline) derive(records []domain.PortfolioRecord) ([]domain.PortfolioRecord, int, error) {
	countryNames, err := p.master.CountryNames()
	if err != nil {
		return nil, 0, err
	}

	kept := make([]domain.PortfolioRecord, 0, len(records))
	dropped := 0
	for _, rec := range records {
		if rec.Quantity.IsZero() {
			dropped++
			continue
		}
		if rec.Quantity.IsNegative() {
			rec.LongShort = "S"
		} else {
			rec.LongShort = "L"
		}
		if rec.CountryName == "" && rec.CountryCode != "" {
			rec.CountryName = countryNames[rec.CountryCode]
		}
		kept = append(kept, rec)
	}

	fillDescriptiveGaps(kept)
	return kept, dropped, nil
}

// descriptive columns that can be borrowed from sibling rows holding the
// same instrument in another fund.
var fillColumns = []string{
	domain.ColSecurityName, domain.ColUnderlyingName, domain.ColYellowKeyCode,
	domain.ColBloombergCode, domain.ColUnderlyingBBG, domain.ColCountryCode,
	domain.ColCountryName,
}

func fillDescriptiveGaps(records []domain.PortfolioRecord) {
	known := make(map[string]map[string]string)
	for _, rec := range records {
		if rec.FigiCode == "" {
			continue
		}
		values, ok := known[rec.FigiCode]
		if !ok {
			values = make(map[string]string)
			known[rec.FigiCode] = values
		}
		for _, col := range fillColumns {
			if v := rec.Field(col); v != "" && values[col] == "" {
				values[col] = v
			}
		}
	}

	for i := range records {
		if records[i].FigiCode == "" {
			continue
		}
		values := known[records[i].FigiCode]
		for _, col := range fillColumns {
			if records[i].Field(col) == "" && values[col] != "" {
				records[i].SetField(col, values[col])
			}
		}
	}
}

// instrumentFlow extracts canonical instruments from the consistent rows,
// inserts the new ones into the security master and queues external lookups
// for their FIGIs.
func (p *PortfolioPipeline) instrumentFlow(records []domain.PortfolioRecord) (added, enqueued int, err error) {
	insts := instruments.Resolve(instruments.Normalize(instruments.FromRecords(records)))

	countryNames, err := p.master.CountryNames()
	if err != nil {
		return 0, 0, err
	}
	for i := range insts {
		if insts[i].IssuerCountry == "" && insts[i].IssuerCountryCode != "" {
			insts[i].IssuerCountry = countryNames[insts[i].IssuerCountryCode]
		}
	}

	added, err = p.master.InsertNew(insts)
	if err != nil {
		return 0, 0, err
	}

	for _, inst := range insts {
		if inst.FigiCode == "" {
			continue
		}
		created, err := p.queue.Enqueue(inst.FigiCode, inst.Currency)
		if err != nil {
			return added, enqueued, err
		}
		if created {
			enqueued++
		}
	}
	return added, enqueued, nil
}

func parsePortfolioRows(rows []map[string]string, businessDate time.Time) []domain.PortfolioRecord {
	records := make([]domain.PortfolioRecord, 0, len(rows))
	for _, row := range rows {
		var rec domain.PortfolioRecord
		for col, v := range row {
			rec.SetField(col, v)
		}
		rec.Date = businessDate
		records = append(records, rec)
	}
	return records
}
