// Package identity derives deterministic identity strings for ingested
// records from their business fields. Identities are stable across
// re-ingestion of logically identical input, which is what makes the
// upload ledger's idempotency work.
package identity

import (
	"strings"

	"github.com/nninov/ngt/internal/domain"
	"github.com/shopspring/decimal"
)

// Separator joins the normalized key fields. Values are made separator-safe
// before joining (negative markers and free-text whitespace are rewritten).
const Separator = "/"

// negToken replaces the "-" sign in numeric key fields so identities never
// contain a bare minus that could be confused with a field boundary.
const negToken = "NEG"

// Portfolio derives the identity of a portfolio holding:
// date/fund/country/gti/<resolved identifier>/<quantity>.
func Portfolio(rec domain.PortfolioRecord) (string, error) {
	id, err := resolvePortfolioIdentifier(rec)
	if err != nil {
		return "", err
	}
	parts := []string{
		rec.Date.Format(domain.DateFormat),
		rec.FundCode,
		rec.CountryCode,
		rec.GTICode,
		id,
		numericToken(rec.Quantity),
	}
	return strings.Join(parts, Separator), nil
}

// resolvePortfolioIdentifier picks the identifying sub-field for a holding.
// Fallback chain, deterministic on which fields are present:
// figi -> bloomberg code (joined with the underlying code when that exists)
// -> normalized security name.
func resolvePortfolioIdentifier(rec domain.PortfolioRecord) (string, error) {
	if rec.FigiCode != "" {
		return rec.FigiCode, nil
	}
	if rec.BloombergCode == "" {
		if rec.SecurityName == "" {
			return "", domain.IdentityError{Reason: "no figi, bloomberg code or security name"}
		}
		return normalizeText(rec.SecurityName), nil
	}
	if rec.UnderlyingBloombergCode == "" {
		return rec.BloombergCode, nil
	}
	return rec.BloombergCode + Separator + rec.UnderlyingBloombergCode, nil
}

// Trade derives the identity of a transaction:
// tradeDate/acctDate/fund/gti/<description>/ccy/<price>(<quantity>).
func Trade(rec domain.TradeRecord) (string, error) {
	if rec.TradeDate.IsZero() {
		return "", domain.IdentityError{Reason: "no trade date"}
	}
	if rec.SecurityDescription == "" {
		return "", domain.IdentityError{Reason: "no security description"}
	}
	if !rec.TransactionPrice.Valid || !rec.TransactionQuantity.Valid {
		return "", domain.IdentityError{Reason: "no transaction price or quantity"}
	}
	parts := []string{
		rec.TradeDate.Format(domain.DateFormat),
		rec.AccountingDate.Format(domain.DateFormat),
		rec.FundCode,
		rec.GTICode,
		normalizeText(rec.SecurityDescription),
		rec.SecurityCurrency,
		rec.TransactionPrice.Decimal.String() + "(" + numericToken(rec.TransactionQuantity.Decimal) + ")",
	}
	return strings.Join(parts, Separator), nil
}

// PartialTrade derives a correction key for a transaction whose price or
// quantity is missing. It uses the keyable prefix of the trade identity so
// the row can still be raised for correction and resolved later.
func PartialTrade(rec domain.TradeRecord) (string, error) {
	if rec.TradeDate.IsZero() {
		return "", domain.IdentityError{Reason: "no trade date"}
	}
	if rec.SecurityDescription == "" {
		return "", domain.IdentityError{Reason: "no security description"}
	}
	parts := []string{
		rec.TradeDate.Format(domain.DateFormat),
		rec.AccountingDate.Format(domain.DateFormat),
		rec.FundCode,
		rec.GTICode,
		normalizeText(rec.SecurityDescription),
		rec.SecurityCurrency,
	}
	return strings.Join(parts, Separator), nil
}

// numericToken renders a decimal with its negative marker replaced.
func numericToken(d decimal.Decimal) string {
	return strings.ReplaceAll(d.String(), "-", negToken)
}

// normalizeText collapses whitespace runs in free-text fields to single
// underscores, keeping the value separator-safe and stable regardless of
// source-file spacing.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), "_")
}
