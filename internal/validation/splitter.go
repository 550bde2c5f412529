// Package validation partitions ingested batches into consistent and faulty
// rows against an ordered rule set. Validation failures are expected, routed
// output - never errors.
package validation

import (
	"time"

	"github.com/nninov/ngt/internal/domain"
)

// Row is the record shape the splitter inspects.
type Row interface {
	Identity() string
	Field(name string) string
	Document() map[string]string
}

// Rule is one (field, predicate, reason) check. A nil Check means the
// default predicate: the field must be non-null.
type Rule struct {
	Field  string
	Reason string
	Check  func(value string) bool
}

// Passes applies the rule's predicate to a raw field value.
func (r Rule) Passes(value string) bool {
	if r.Check != nil {
		return r.Check(value)
	}
	return value != ""
}

// PortfolioRules is the fixed rule set for portfolio holdings.
func PortfolioRules() []Rule {
	return []Rule{
		{Field: domain.ColFundCode, Reason: "No Fund Code found."},
		{Field: domain.ColYellowKeyCode, Reason: "No Bloomberg Yellow Key Code found."},
		{Field: domain.ColCountryCode, Reason: "No country code found."},
		{Field: domain.ColSecurityCurrency, Reason: "No security currency found."},
	}
}

// TradeRules is the fixed rule set for transaction rows.
func TradeRules() []Rule {
	return []Rule{
		{Field: domain.ColTradeFundCode, Reason: "No Fund Code found."},
		{Field: domain.ColSecurityCurrency, Reason: "No security currency found."},
		{Field: domain.ColCountryCode, Reason: "No country code found."},
	}
}

// Split partitions records into consistent and faulty. A record violating k
// rules produces k faulty rows (deduplicated by identity and field); a
// record is consistent iff it violates zero rules. Exclusion from the
// consistent side is by identity, not by rule: once any row with an
// identity is faulty, no row with that identity is consistent.
func Split[R Row](records []R, rules []Rule, now time.Time) (consistent []R, faulty []domain.FaultyRecord) {
	type key struct{ identity, field string }
	seen := make(map[key]struct{})
	faultyIDs := make(map[string]struct{})

	// Evaluate rules in order so the faulty output groups by rule, the
	// shape the correction file is built from.
	for _, rule := range rules {
		for _, rec := range records {
			if rule.Passes(rec.Field(rule.Field)) {
				continue
			}
			k := key{identity: rec.Identity(), field: rule.Field}
			faultyIDs[rec.Identity()] = struct{}{}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			faulty = append(faulty, domain.FaultyRecord{
				Identity: rec.Identity(),
				Column:   rule.Field,
				Reason:   rule.Reason,
				Status:   domain.FaultyPending,
				RaisedAt: now,
				Payload:  rec.Document(),
			})
		}
	}

	for _, rec := range records {
		if _, bad := faultyIDs[rec.Identity()]; bad {
			continue
		}
		consistent = append(consistent, rec)
	}
	return consistent, faulty
}

// NewFaulty builds a pending faulty row for checks that live outside the
// rule set (the trade pre-filters).
func NewFaulty(row Row, column, reason string, now time.Time) domain.FaultyRecord {
	return domain.FaultyRecord{
		Identity: row.Identity(),
		Column:   column,
		Reason:   reason,
		Status:   domain.FaultyPending,
		RaisedAt: now,
		Payload:  row.Document(),
	}
}
