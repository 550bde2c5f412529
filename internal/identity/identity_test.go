package identity

import (
	"testing"
	"time"

	"github.com/nninov/ngt/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func portfolioFixture() domain.PortfolioRecord {
	return domain.PortfolioRecord{
		Date:        time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		FundCode:    "FUNDA",
		CountryCode: "US",
		GTICode:     "GTI1",
		FigiCode:    "BBG000N9MNX3",
		Quantity:    decimal.NewFromInt(100),
	}
}

func TestPortfolioIdentity(t *testing.T) {
	id, err := Portfolio(portfolioFixture())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02/FUNDA/US/GTI1/BBG000N9MNX3/100", id)
}

func TestPortfolioIdentityStability(t *testing.T) {
	a := portfolioFixture()
	b := portfolioFixture()
	// Unrelated non-key fields must not change the identity.
	b.SecurityCurrency = "USD"
	b.YellowKeyCode = "Equity"

	idA, err := Portfolio(a)
	require.NoError(t, err)
	idB, err := Portfolio(b)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	// Changing any key field must change it.
	b.Quantity = decimal.NewFromInt(200)
	idB2, err := Portfolio(b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB2)
}

func TestPortfolioIdentityNegativeQuantity(t *testing.T) {
	rec := portfolioFixture()
	rec.Quantity = decimal.NewFromInt(-250)

	id, err := Portfolio(rec)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02/FUNDA/US/GTI1/BBG000N9MNX3/NEG250", id)
}

func TestPortfolioIdentifierFallbackChain(t *testing.T) {
	rec := portfolioFixture()

	// Primary: figi code.
	id, err := Portfolio(rec)
	require.NoError(t, err)
	assert.Contains(t, id, "BBG000N9MNX3")

	// Secondary: bloomberg code.
	rec.FigiCode = ""
	rec.BloombergCode = "TSLA US"
	id, err = Portfolio(rec)
	require.NoError(t, err)
	assert.Contains(t, id, "TSLA US")

	// Composite: bloomberg code plus underlying.
	rec.UnderlyingBloombergCode = "TSLA UW"
	id, err = Portfolio(rec)
	require.NoError(t, err)
	assert.Contains(t, id, "TSLA US/TSLA UW")

	// Last resort: normalized security name.
	rec.BloombergCode = ""
	rec.UnderlyingBloombergCode = ""
	rec.SecurityName = "TESLA  INC COMMON"
	id, err = Portfolio(rec)
	require.NoError(t, err)
	assert.Contains(t, id, "TESLA_INC_COMMON")
}

func TestPortfolioIdentityAllIdentifiersAbsent(t *testing.T) {
	rec := portfolioFixture()
	rec.FigiCode = ""
	rec.BloombergCode = ""
	rec.SecurityName = ""

	_, err := Portfolio(rec)
	require.Error(t, err)
	assert.IsType(t, domain.IdentityError{}, err)
}

func TestPortfolioIdentityDeterministicBranch(t *testing.T) {
	// The same set of present/absent fields always yields the same branch.
	rec := portfolioFixture()
	rec.FigiCode = ""
	rec.BloombergCode = "IBM US"
	rec.SecurityName = "IBM CORP"

	first, err := Portfolio(rec)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Portfolio(rec)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Contains(t, first, "IBM US")
	assert.NotContains(t, first, "IBM_CORP")
}

func TestTradeIdentity(t *testing.T) {
	rec := domain.TradeRecord{
		TradeDate:           time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		AccountingDate:      time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		FundCode:            "FUNDB",
		GTICode:             "GTI9",
		SecurityDescription: "APPLE INC",
		SecurityCurrency:    "USD",
		TransactionPrice:    decimal.NewNullDecimal(decimal.NewFromFloat(170.5)),
		TransactionQuantity: decimal.NewNullDecimal(decimal.NewFromInt(-30)),
	}

	id, err := Trade(rec)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05/2024-03-06/FUNDB/GTI9/APPLE_INC/USD/170.5(NEG30)", id)
}

func TestTradeIdentityMissingFields(t *testing.T) {
	rec := domain.TradeRecord{SecurityDescription: ""}
	_, err := Trade(rec)
	assert.IsType(t, domain.IdentityError{}, err)

	rec.TradeDate = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	_, err = Trade(rec)
	assert.IsType(t, domain.IdentityError{}, err)

	rec.SecurityDescription = "APPLE INC"
	_, err = Trade(rec)
	assert.IsType(t, domain.IdentityError{}, err)
}

func TestPartialTradeIdentity(t *testing.T) {
	rec := domain.TradeRecord{
		TradeDate:           time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		AccountingDate:      time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		FundCode:            "FUNDB",
		GTICode:             "GTI9",
		SecurityDescription: "APPLE INC",
		SecurityCurrency:    "USD",
	}

	id, err := PartialTrade(rec)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05/2024-03-06/FUNDB/GTI9/APPLE_INC/USD", id)

	rec.TradeDate = time.Time{}
	_, err = PartialTrade(rec)
	assert.IsType(t, domain.IdentityError{}, err)
}
