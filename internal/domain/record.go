// Package domain contains the core data model for the reconciliation engine:
// ingested records, reference-data instruments, enrichment queue entries and
// faulty-record rows. The domain layer is pure - no infrastructure dependencies.
package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the calendar representation used everywhere a date becomes
// part of an identity or a persisted document.
const DateFormat = "2006-01-02"

// Core column names shared by the pipelines. Raw files carry these with an
// "nt_" prefix which is stripped at the parsing boundary.
const (
	ColFundCode          = "pool_fund_code"
	ColTradeFundCode     = "fund_code"
	ColCountryCode       = "issuer_country_code"
	ColCountryName       = "issuer_country"
	ColGTICode           = "gti_code"
	ColFigiCode          = "figi_code"
	ColBloombergCode     = "bbg_code"
	ColUnderlyingBBG     = "underlying_bbg_code"
	ColSecurityName      = "security_name"
	ColUnderlyingName    = "underlying_security_name"
	ColSecurityCurrency  = "security_currency"
	ColSecondQuoteCcy    = "second_quotation_ccy"
	ColYellowKeyCode     = "yellow_key_code"
	ColQuantity          = "quantity"
	ColLongShort         = "long_short"
	ColDate              = "date"
	ColTradeDate         = "trade_date"
	ColAccountingDate    = "accounting_date"
	ColSecurityDesc      = "security_description"
	ColTransactionPrice  = "transaction_price"
	ColTransactionQty    = "transaction_quantity"
	ColIssuerCountryName = "issuer_country_name"
	ColNotionalValue     = "notional_value"
	ColPctChange         = "pct_change"
)

// PortfolioRecord is a single portfolio holding row. String fields use "" as
// the null value; Quantity zero means the row carries no position and is
// dropped during ingestion. Extra holds source columns the engine does not
// inspect - they travel with the record but are otherwise opaque.
type PortfolioRecord struct {
	ID string

	Date                    time.Time
	FundCode                string
	CountryCode             string
	CountryName             string
	GTICode                 string
	FigiCode                string
	BloombergCode           string
	UnderlyingBloombergCode string
	SecurityName            string
	UnderlyingSecurityName  string
	SecurityCurrency        string
	SecondQuotationCcy      string
	YellowKeyCode           string
	Quantity                decimal.Decimal
	LongShort               string

	Extra map[string]string
}

// Identity returns the record's assigned identity.
func (r PortfolioRecord) Identity() string { return r.ID }

// Field returns the value of a named core field, or the extension map value
// when the name is not a core field. Empty string means null.
func (r PortfolioRecord) Field(name string) string {
	switch name {
	case ColDate:
		return formatDate(r.Date)
	case ColFundCode:
		return r.FundCode
	case ColCountryCode:
		return r.CountryCode
	case ColCountryName:
		return r.CountryName
	case ColGTICode:
		return r.GTICode
	case ColFigiCode:
		return r.FigiCode
	case ColBloombergCode:
		return r.BloombergCode
	case ColUnderlyingBBG:
		return r.UnderlyingBloombergCode
	case ColSecurityName:
		return r.SecurityName
	case ColUnderlyingName:
		return r.UnderlyingSecurityName
	case ColSecurityCurrency:
		return r.SecurityCurrency
	case ColSecondQuoteCcy:
		return r.SecondQuotationCcy
	case ColYellowKeyCode:
		return r.YellowKeyCode
	case ColQuantity:
		return r.Quantity.String()
	case ColLongShort:
		return r.LongShort
	}
	return r.Extra[name]
}

// SetField writes a named core field, falling back to the extension map.
// Values arriving here are already normalized strings; dates and numbers are
// parsed leniently and left untouched on failure.
func (r *PortfolioRecord) SetField(name, value string) {
	switch name {
	case ColDate:
		if t, err := time.Parse(DateFormat, value); err == nil {
			r.Date = t
		}
	case ColFundCode:
		r.FundCode = value
	case ColCountryCode:
		r.CountryCode = value
	case ColCountryName:
		r.CountryName = value
	case ColGTICode:
		r.GTICode = value
	case ColFigiCode:
		r.FigiCode = value
	case ColBloombergCode:
		r.BloombergCode = value
	case ColUnderlyingBBG:
		r.UnderlyingBloombergCode = value
	case ColSecurityName:
		r.SecurityName = value
	case ColUnderlyingName:
		r.UnderlyingSecurityName = value
	case ColSecurityCurrency:
		r.SecurityCurrency = value
	case ColSecondQuoteCcy:
		r.SecondQuotationCcy = value
	case ColYellowKeyCode:
		r.YellowKeyCode = value
	case ColQuantity:
		if d, err := decimal.NewFromString(value); err == nil {
			r.Quantity = d
		}
	case ColLongShort:
		r.LongShort = value
	default:
		if r.Extra == nil {
			r.Extra = map[string]string{}
		}
		r.Extra[name] = value
	}
}

// PortfolioColumns is the stable column order for persisted and exported
// portfolio documents. Extension columns follow in sorted order.
var PortfolioColumns = []string{
	ColDate, ColFundCode, ColCountryCode, ColCountryName, ColGTICode,
	ColFigiCode, ColBloombergCode, ColUnderlyingBBG, ColSecurityName,
	ColUnderlyingName, ColSecurityCurrency, ColSecondQuoteCcy,
	ColYellowKeyCode, ColQuantity, ColLongShort,
}

// Document flattens the record into a column -> value map, the shape stored
// in the document store and exported for human correction.
func (r PortfolioRecord) Document() map[string]string {
	doc := make(map[string]string, len(PortfolioColumns)+len(r.Extra))
	for _, col := range PortfolioColumns {
		doc[col] = r.Field(col)
	}
	for k, v := range r.Extra {
		doc[k] = v
	}
	return doc
}

// TradeRecord is a single transaction row. Price and quantity are nullable
// because faulty source rows genuinely arrive without them.
type TradeRecord struct {
	ID string

	TradeDate           time.Time
	AccountingDate      time.Time
	FundCode            string
	GTICode             string
	SecurityDescription string
	SecurityCurrency    string
	BloombergCode       string
	IssuerCountryName   string
	IssuerCountryCode   string
	TransactionPrice    decimal.NullDecimal
	TransactionQuantity decimal.NullDecimal
	NotionalValue       decimal.NullDecimal
	LongShort           string
	PctChange           string

	Extra map[string]string
}

// Identity returns the record's assigned identity.
func (r TradeRecord) Identity() string { return r.ID }

// Field returns the value of a named core field, "" meaning null.
func (r TradeRecord) Field(name string) string {
	switch name {
	case ColTradeDate:
		return formatDate(r.TradeDate)
	case ColAccountingDate:
		return formatDate(r.AccountingDate)
	case ColTradeFundCode:
		return r.FundCode
	case ColGTICode:
		return r.GTICode
	case ColSecurityDesc:
		return r.SecurityDescription
	case ColSecurityCurrency:
		return r.SecurityCurrency
	case ColBloombergCode:
		return r.BloombergCode
	case ColIssuerCountryName:
		return r.IssuerCountryName
	case ColCountryCode:
		return r.IssuerCountryCode
	case ColTransactionPrice:
		return formatNullDecimal(r.TransactionPrice)
	case ColTransactionQty:
		return formatNullDecimal(r.TransactionQuantity)
	case ColNotionalValue:
		return formatNullDecimal(r.NotionalValue)
	case ColLongShort:
		return r.LongShort
	case ColPctChange:
		return r.PctChange
	}
	return r.Extra[name]
}

// SetField writes a named core field, falling back to the extension map.
func (r *TradeRecord) SetField(name, value string) {
	switch name {
	case ColTradeDate:
		if t, err := time.Parse(DateFormat, value); err == nil {
			r.TradeDate = t
		}
	case ColAccountingDate:
		if t, err := time.Parse(DateFormat, value); err == nil {
			r.AccountingDate = t
		}
	case ColTradeFundCode:
		r.FundCode = value
	case ColGTICode:
		r.GTICode = value
	case ColSecurityDesc:
		r.SecurityDescription = value
	case ColSecurityCurrency:
		r.SecurityCurrency = value
	case ColBloombergCode:
		r.BloombergCode = value
	case ColIssuerCountryName:
		r.IssuerCountryName = value
	case ColCountryCode:
		r.IssuerCountryCode = value
	case ColTransactionPrice:
		r.TransactionPrice = parseNullDecimal(value)
	case ColTransactionQty:
		r.TransactionQuantity = parseNullDecimal(value)
	case ColNotionalValue:
		r.NotionalValue = parseNullDecimal(value)
	case ColLongShort:
		r.LongShort = value
	case ColPctChange:
		r.PctChange = value
	default:
		if r.Extra == nil {
			r.Extra = map[string]string{}
		}
		r.Extra[name] = value
	}
}

// TradeColumns is the stable column order for persisted trade documents.
var TradeColumns = []string{
	ColTradeDate, ColAccountingDate, ColTradeFundCode, ColGTICode,
	ColSecurityDesc, ColSecurityCurrency, ColBloombergCode,
	ColIssuerCountryName, ColCountryCode, ColTransactionPrice,
	ColTransactionQty, ColNotionalValue, ColLongShort, ColPctChange,
}

// Document flattens the record into a column -> value map.
func (r TradeRecord) Document() map[string]string {
	doc := make(map[string]string, len(TradeColumns)+len(r.Extra))
	for _, col := range TradeColumns {
		doc[col] = r.Field(col)
	}
	for k, v := range r.Extra {
		doc[k] = v
	}
	return doc
}

// ExtraColumns returns the sorted extension column names of a document map
// after removing the known core columns.
func ExtraColumns(doc map[string]string, core []string) []string {
	known := make(map[string]bool, len(core))
	for _, c := range core {
		known[c] = true
	}
	extras := make([]string, 0, len(doc))
	for k := range doc {
		if !known[k] {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	return extras
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateFormat)
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func parseNullDecimal(value string) decimal.NullDecimal {
	if value == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
