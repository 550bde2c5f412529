// Package instruments turns new portfolio rows into canonical reference-data
// instruments: column selection, normalization of known gaps, and duplicate
// resolution so that at most one row per FIGI reaches the security master.
package instruments

import (
	"strings"

	"github.com/nninov/ngt/internal/domain"
)

// missingYellowCodes backfills the Bloomberg yellow-key classification for
// derivative names the source system leaves blank. Matched against the
// upper-cased security name prefix.
var missingYellowCodes = []struct {
	prefix string
	code   string
}{
	{"INTEREST RATE SWAP", "IRS"},
	{"PUT", "OPT"},
	{"CALL", "OPT"},
	{"CREDIT DEFAULT SWAP", "CDS"},
}

// FromRecords selects the instrument fields out of portfolio rows, skipping
// rows without a position and collapsing exact duplicates. Order of first
// appearance is preserved - duplicate resolution depends on it.
func FromRecords(records []domain.PortfolioRecord) []domain.Instrument {
	seen := make(map[domain.Instrument]struct{}, len(records))
	out := make([]domain.Instrument, 0, len(records))
	for _, rec := range records {
		if rec.Quantity.IsZero() {
			continue
		}
		inst := domain.Instrument{
			SecurityName:            rec.SecurityName,
			YellowKeyCode:           rec.YellowKeyCode,
			UnderlyingSecurityName:  rec.UnderlyingSecurityName,
			Currency:                rec.SecurityCurrency,
			FigiCode:                rec.FigiCode,
			BloombergCode:           rec.BloombergCode,
			UnderlyingBloombergCode: rec.UnderlyingBloombergCode,
			GTICode:                 rec.GTICode,
			SecondQuotationCcy:      rec.SecondQuotationCcy,
			IssuerCountryCode:       rec.CountryCode,
		}
		if _, ok := seen[inst]; ok {
			continue
		}
		seen[inst] = struct{}{}
		out = append(out, inst)
	}
	return out
}

// Normalize applies the deterministic gap fixes the source data needs before
// duplicate resolution: equities reference themselves as their underlying,
// and well-known derivative names get their missing yellow-key code.
func Normalize(insts []domain.Instrument) []domain.Instrument {
	out := make([]domain.Instrument, len(insts))
	for i, inst := range insts {
		if inst.YellowKeyCode == "Equity" {
			inst.UnderlyingSecurityName = inst.SecurityName
			inst.UnderlyingBloombergCode = inst.BloombergCode
		}
		if inst.YellowKeyCode == "" {
			name := strings.ToUpper(inst.SecurityName)
			for _, m := range missingYellowCodes {
				if strings.HasPrefix(name, m.prefix) {
					inst.YellowKeyCode = m.code
					break
				}
			}
		}
		out[i] = inst
	}
	return out
}

// Resolve collapses duplicate instruments sharing a FIGI code into one
// canonical row: the member with the highest completeness score wins, ties
// broken by first-seen order. Rows without a FIGI pass through untouched.
// Rows whose yellow-key classification is still null after resolution are
// dropped - they cannot be published to reference data.
func Resolve(insts []domain.Instrument) []domain.Instrument {
	best := make(map[string]int, len(insts)) // figi -> index of current winner
	for i, inst := range insts {
		if inst.FigiCode == "" {
			continue
		}
		winner, ok := best[inst.FigiCode]
		if !ok {
			best[inst.FigiCode] = i
			continue
		}
		// Strictly greater keeps the earlier member on ties.
		if inst.Completeness() > insts[winner].Completeness() {
			best[inst.FigiCode] = i
		}
	}

	out := make([]domain.Instrument, 0, len(insts))
	for i, inst := range insts {
		if inst.FigiCode != "" && best[inst.FigiCode] != i {
			continue
		}
		if inst.YellowKeyCode == "" {
			continue
		}
		out = append(out, inst)
	}
	return out
}
