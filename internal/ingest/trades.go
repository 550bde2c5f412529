package ingest

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nninov/ngt/internal/domain"
	"github.com/nninov/ngt/internal/hitl"
	"github.com/nninov/ngt/internal/identity"
	"github.com/nninov/ngt/internal/ledger"
	"github.com/nninov/ngt/internal/securities"
	"github.com/nninov/ngt/internal/validation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ConflictingPriceReason flags two source rows reporting the same
// instrument on the same trade date at different prices. Neither can be
// trusted, so both go to correction.
const ConflictingPriceReason = "Conflicting transaction prices for the same trade date."

// MissingPriceReason and MissingQuantityReason flag source rows that lack
// the numeric fields a trade identity is built from.
const (
	MissingPriceReason    = "No transaction price found."
	MissingQuantityReason = "No transaction quantity found."
)

// TradeStats summarizes one trade ingestion run.
type TradeStats struct {
	Read       int
	NoIdentity int // rows excluded: missing trade date or description
	Incomplete int // rows missing price or quantity, routed to correction
	Dropped    int // zero-quantity rows removed
	Conflicts  int // price-conflict rows routed to correction
	New        int
	Consistent int
	Faulty     int
	Prices     int // price points written
}

// TradePipeline ingests transaction drops end to end.
type TradePipeline struct {
	raw        *ledger.Repository
	processed  *ProcessedStore
	faulty     *hitl.Repository
	master     *securities.Repository
	ccyCountry map[string]string
	log        zerolog.Logger
}

// NewTradePipeline wires the trade ingestion flow. ccyCountry maps a
// settlement currency to the country code assumed when the source row
// carries none.
func NewTradePipeline(raw *ledger.Repository, processed *ProcessedStore, faulty *hitl.Repository,
	master *securities.Repository, ccyCountry map[string]string, log zerolog.Logger) *TradePipeline {
	return &TradePipeline{
		raw:        raw,
		processed:  processed,
		faulty:     faulty,
		master:     master,
		ccyCountry: ccyCountry,
		log:        log.With().Str("component", "trade_pipeline").Logger(),
	}
}

// Run ingests one transaction file.
func (p *TradePipeline) Run(path string) (TradeStats, error) {
	var stats TradeStats
	log := p.log.With().Str("run_id", uuid.NewString()).Str("file", path).Logger()

	rows, err := ReadTable(path)
	if err != nil {
		return stats, err
	}
	stats.Read = len(rows)

	records := parseTradeRows(rows)
	now := time.Now().UTC()

	// Zero-quantity rows carry no economic content and are silently dropped,
	// mirroring the portfolio side.
	nonZero := records[:0]
	for _, rec := range records {
		if rec.TransactionQuantity.Valid && rec.TransactionQuantity.Decimal.IsZero() {
			stats.Dropped++
			continue
		}
		nonZero = append(nonZero, rec)
	}
	records = nonZero

	keyed := make([]domain.TradeRecord, 0, len(records))
	var incomplete []domain.FaultyRecord
	for _, rec := range records {
		id, err := identity.Trade(rec)
		if err == nil {
			rec.ID = id
			keyed = append(keyed, rec)
			continue
		}
		// Rows lacking price or quantity can still be keyed on the rest of
		// the trade fields and raised for correction. Rows without even a
		// trade date or description cannot be tracked at all.
		partial, perr := identity.PartialTrade(rec)
		if perr != nil {
			stats.NoIdentity++
			log.Warn().Err(err).Str("description", rec.SecurityDescription).Msg("Trade excluded, no identity")
			continue
		}
		rec.ID = partial
		stats.Incomplete++
		if !rec.TransactionPrice.Valid {
			incomplete = append(incomplete, validation.NewFaulty(rec, domain.ColTransactionPrice, MissingPriceReason, now))
		}
		if !rec.TransactionQuantity.Valid {
			incomplete = append(incomplete, validation.NewFaulty(rec, domain.ColTransactionQty, MissingQuantityReason, now))
		}
	}
	if _, err := p.faulty.Record(hitl.CollectionTrades, incomplete); err != nil {
		return stats, err
	}

	keyed, conflicts := splitPriceConflicts(keyed, now)
	stats.Conflicts = len(conflicts)
	if _, err := p.faulty.Record(hitl.CollectionTrades, conflicts); err != nil {
		return stats, err
	}

	fresh, _, err := ledger.FilterNew(p.raw, ledger.CollectionTrades, keyed)
	if err != nil {
		return stats, err
	}
	stats.New = len(fresh)
	if len(fresh) == 0 {
		stats.Faulty = stats.Conflicts + stats.Incomplete
		log.Info().Msg("No new trade rows in drop")
		return stats, nil
	}

	docs := make([]ledger.Document, len(fresh))
	for i, rec := range fresh {
		docs[i] = rec
	}
	if err := p.raw.Append(ledger.CollectionTrades, docs); err != nil {
		return stats, err
	}

	derived, err := p.derive(fresh)
	if err != nil {
		return stats, err
	}

	consistent, faultyRows := validation.Split(derived, validation.TradeRules(), now)
	stats.Consistent = len(consistent)
	stats.Faulty = len(faultyRows) + stats.Conflicts + stats.Incomplete

	if _, err := p.faulty.Record(hitl.CollectionTrades, faultyRows); err != nil {
		return stats, err
	}

	processedDocs := make(map[string]map[string]string, len(consistent))
	for _, rec := range consistent {
		processedDocs[rec.ID] = rec.Document()
	}
	if err := p.processed.Upsert(ProcessedTrades, processedDocs); err != nil {
		return stats, err
	}

	points := buildPriceSeries(consistent)
	if err := p.master.InsertPrices(points); err != nil {
		return stats, err
	}
	stats.Prices = len(points)

	log.Info().
		Int("read", stats.Read).
		Int("new", stats.New).
		Int("consistent", stats.Consistent).
		Int("faulty", stats.Faulty).
		Int("prices", stats.Prices).
		Msg("Trade drop ingested")
	return stats, nil
}

// derive fills the derived trade columns: notional value, the position side
// from the quantity sign, the currency-implied country code and the country
// name join.
func (p *TradePipeline) derive(records []domain.TradeRecord) ([]domain.TradeRecord, error) {
	countryNames, err := p.master.CountryNames()
	if err != nil {
		return nil, err
	}

	out := make([]domain.TradeRecord, 0, len(records))
	for _, rec := range records {
		if rec.TransactionPrice.Valid && rec.TransactionQuantity.Valid {
			rec.NotionalValue = decimal.NewNullDecimal(
				rec.TransactionPrice.Decimal.Mul(rec.TransactionQuantity.Decimal))
		}
		if rec.TransactionQuantity.Valid && rec.TransactionQuantity.Decimal.IsNegative() {
			rec.LongShort = "S"
		} else {
			rec.LongShort = "L"
		}
		if rec.IssuerCountryCode == "" {
			rec.IssuerCountryCode = p.ccyCountry[rec.SecurityCurrency]
		}
		if rec.IssuerCountryName == "" && rec.IssuerCountryCode != "" {
			rec.IssuerCountryName = countryNames[rec.IssuerCountryCode]
		}
		out = append(out, rec)
	}
	return out, nil
}

// splitPriceConflicts removes rows that report the same instrument on the
// same trade date at differing prices. All rows of a conflicting group are
// routed to correction.
func splitPriceConflicts(records []domain.TradeRecord, now time.Time) ([]domain.TradeRecord, []domain.FaultyRecord) {
	type key struct{ date, desc, ccy string }
	prices := make(map[key]map[string]struct{})
	for _, rec := range records {
		if !rec.TransactionPrice.Valid {
			continue
		}
		k := key{rec.TradeDate.Format(domain.DateFormat), rec.SecurityDescription, rec.SecurityCurrency}
		if prices[k] == nil {
			prices[k] = make(map[string]struct{})
		}
		prices[k][rec.TransactionPrice.Decimal.String()] = struct{}{}
	}

	var clean []domain.TradeRecord
	var faulty []domain.FaultyRecord
	for _, rec := range records {
		k := key{rec.TradeDate.Format(domain.DateFormat), rec.SecurityDescription, rec.SecurityCurrency}
		if len(prices[k]) > 1 {
			faulty = append(faulty, validation.NewFaulty(rec, domain.ColTransactionPrice, ConflictingPriceReason, now))
			continue
		}
		clean = append(clean, rec)
	}
	return clean, faulty
}

// buildPriceSeries turns the batch's observed prices into a gap-filled
// business-day series per instrument, with the day-over-day change.
func buildPriceSeries(records []domain.TradeRecord) []securities.PricePoint {
	type key struct{ bbg, ccy string }
	type obs struct {
		date    time.Time
		price   decimal.Decimal
		country string
	}

	byInstrument := make(map[key][]obs)
	var order []key
	for _, rec := range records {
		if rec.BloombergCode == "" || !rec.TransactionPrice.Valid {
			continue
		}
		k := key{rec.BloombergCode, rec.SecurityCurrency}
		if _, seen := byInstrument[k]; !seen {
			order = append(order, k)
		}
		byInstrument[k] = append(byInstrument[k], obs{
			date:    rec.TradeDate,
			price:   rec.TransactionPrice.Decimal,
			country: rec.IssuerCountryCode,
		})
	}

	var points []securities.PricePoint
	for _, k := range order {
		observations := byInstrument[k]
		sort.Slice(observations, func(i, j int) bool { return observations[i].date.Before(observations[j].date) })

		byDate := make(map[string]obs, len(observations))
		for _, o := range observations {
			byDate[o.date.Format(domain.DateFormat)] = o
		}

		var prev *decimal.Decimal
		last := observations[0]
		for _, day := range BusinessDaysBetween(observations[0].date, observations[len(observations)-1].date) {
			if o, ok := byDate[day.Format(domain.DateFormat)]; ok {
				last = o
			}
			point := securities.PricePoint{
				Date:          day,
				BloombergCode: k.bbg,
				Price:         decimal.NewNullDecimal(last.price),
				Currency:      k.ccy,
				CountryCode:   last.country,
			}
			if prev != nil && !prev.IsZero() {
				point.PctChange = last.price.Sub(*prev).Div(*prev).StringFixed(6)
			}
			p := last.price
			prev = &p
			points = append(points, point)
		}
	}
	return points
}

func parseTradeRows(rows []map[string]string) []domain.TradeRecord {
	records := make([]domain.TradeRecord, 0, len(rows))
	for _, row := range rows {
		var rec domain.TradeRecord
		for col, v := range row {
			rec.SetField(col, v)
		}
		records = append(records, rec)
	}
	return records
}
