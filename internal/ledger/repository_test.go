package ledger

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/nninov/ngt/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(Schema)
	require.NoError(t, err)
	return db
}

func holding(quantity int64) domain.PortfolioRecord {
	rec := domain.PortfolioRecord{
		Date:        time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		FundCode:    "FUNDA",
		CountryCode: "US",
		GTICode:     "GTI1",
		FigiCode:    "TSLA",
		Quantity:    decimal.NewFromInt(quantity),
	}
	rec.ID = "2024-01-02/FUNDA/US/GTI1/TSLA/" + rec.Quantity.String()
	return rec
}

func TestFilterNewFirstRun(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	batch := []domain.PortfolioRecord{holding(100), holding(200)}
	fresh, present, err := FilterNew(repo, CollectionPortfolios, batch)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
	assert.Empty(t, present)
}

func TestFilterNewIsIdempotent(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	batch := []domain.PortfolioRecord{holding(100)}
	fresh, _, err := FilterNew(repo, CollectionPortfolios, batch)
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	docs := make([]Document, len(fresh))
	for i, rec := range fresh {
		docs[i] = rec
	}
	require.NoError(t, repo.Append(CollectionPortfolios, docs))

	// Same batch, same ledger state: everything is now present.
	fresh, present, err := FilterNew(repo, CollectionPortfolios, batch)
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Len(t, present, 1)
}

func TestFilterNewDuplicateRowsInSameFile(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	// Re-running the same file produces duplicate identities inside the
	// batch itself; only the first occurrence is new.
	batch := []domain.PortfolioRecord{holding(100), holding(100)}
	require.Equal(t, "2024-01-02/FUNDA/US/GTI1/TSLA/100", batch[0].ID)
	require.Equal(t, batch[0].ID, batch[1].ID)

	fresh, present, err := FilterNew(repo, CollectionPortfolios, batch)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
	assert.Len(t, present, 1)

	docs := make([]Document, len(fresh))
	for i, rec := range fresh {
		docs[i] = rec
	}
	require.NoError(t, repo.Append(CollectionPortfolios, docs))

	fresh, present, err = FilterNew(repo, CollectionPortfolios, batch)
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Len(t, present, 2)
}

func TestAppendConflictIsHarmless(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	rec := holding(100)
	require.NoError(t, repo.Append(CollectionPortfolios, []Document{rec}))
	// A concurrent ingest of the same batch re-appends the same id.
	require.NoError(t, repo.Append(CollectionPortfolios, []Document{rec}))

	n, err := repo.Count(CollectionPortfolios)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExistingBatchesLargeProbeSets(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	var docs []Document
	var ids []string
	for i := int64(0); i < 1200; i++ {
		rec := holding(i + 1)
		docs = append(docs, rec)
		ids = append(ids, rec.ID)
	}
	require.NoError(t, repo.Append(CollectionPortfolios, docs))

	existing, err := repo.Existing(CollectionPortfolios, ids)
	require.NoError(t, err)
	assert.Len(t, existing, 1200)
}

func TestInvalidCollectionRejected(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	_, err := repo.Existing("raw_other; DROP TABLE raw_trades", []string{"x"})
	assert.Error(t, err)
}

func TestRawDocumentsRoundTrip(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	rec := holding(100)
	rec.SecurityCurrency = "USD"
	require.NoError(t, repo.Append(CollectionPortfolios, []Document{rec}))

	docs, err := repo.RawDocuments(CollectionPortfolios)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "USD", docs[0][domain.ColSecurityCurrency])
	assert.Equal(t, "100", docs[0][domain.ColQuantity])
}
