package hitl

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/nninov/ngt/internal/domain"
	"github.com/nninov/ngt/internal/validation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFaulty(t *testing.T) *Repository {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db, zerolog.Nop())
	require.NoError(t, repo.EnsureSchema())
	return repo
}

func faultyRow(identity, column, reason string, payload map[string]string) domain.FaultyRecord {
	return domain.FaultyRecord{
		Identity: identity,
		Column:   column,
		Reason:   reason,
		Status:   domain.FaultyPending,
		RaisedAt: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
		Payload:  payload,
	}
}

func TestRecordDeduplicatesByIdentityAndColumn(t *testing.T) {
	repo := setupFaulty(t)
	row := faultyRow("ID1", domain.ColFundCode, "No Fund Code found.", map[string]string{"a": "1"})

	added, err := repo.Record(CollectionPortfolios, []domain.FaultyRecord{row})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	// Re-raising the same violation while pending is a no-op.
	added, err = repo.Record(CollectionPortfolios, []domain.FaultyRecord{row})
	require.NoError(t, err)
	assert.Zero(t, added)

	// A different column on the same identity is a separate row.
	other := faultyRow("ID1", domain.ColCountryCode, "No country code found.", map[string]string{"a": "1"})
	added, err = repo.Record(CollectionPortfolios, []domain.FaultyRecord{other})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	pending, err := repo.Pending(CollectionPortfolios)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestResolveClosesAllRowsOfIdentity(t *testing.T) {
	repo := setupFaulty(t)
	rows := []domain.FaultyRecord{
		faultyRow("ID1", domain.ColFundCode, "No Fund Code found.", nil),
		faultyRow("ID1", domain.ColCountryCode, "No country code found.", nil),
		faultyRow("ID2", domain.ColFundCode, "No Fund Code found.", nil),
	}
	_, err := repo.Record(CollectionPortfolios, rows)
	require.NoError(t, err)

	closed, err := repo.Resolve(CollectionPortfolios, "ID1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, closed)

	n, err := repo.PendingCount(CollectionPortfolios)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollectionsAreIsolated(t *testing.T) {
	repo := setupFaulty(t)
	_, err := repo.Record(CollectionPortfolios, []domain.FaultyRecord{faultyRow("ID1", "c", "r", nil)})
	require.NoError(t, err)

	n, err := repo.PendingCount(CollectionTrades)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repo.Record("raw_portfolios", nil)
	assert.Error(t, err, "only faulty collections are addressable")
}

func TestCorrectionRoundTrip(t *testing.T) {
	repo := setupFaulty(t)
	dir := t.TempDir()

	// Two violations on one identity, payload missing both fields.
	payload := map[string]string{
		domain.ColFundCode:         "",
		domain.ColCountryCode:      "",
		domain.ColYellowKeyCode:    "Equity",
		domain.ColSecurityCurrency: "USD",
	}
	rows := []domain.FaultyRecord{
		faultyRow("ID1", domain.ColFundCode, "No Fund Code found.", payload),
		faultyRow("ID1", domain.ColCountryCode, "No country code found.", payload),
	}
	_, err := repo.Record(CollectionPortfolios, rows)
	require.NoError(t, err)

	columns := []string{domain.ColFundCode, domain.ColCountryCode, domain.ColYellowKeyCode, domain.ColSecurityCurrency}
	path := filepath.Join(dir, "corrections.xlsx")
	pending, err := repo.Pending(CollectionPortfolios)
	require.NoError(t, err)
	require.NoError(t, WriteCorrectionFile(path, columns, pending))

	// The operator fills one missing cell per row, as the export presents
	// one row per violation.
	corrected, err := readWorkbook(path)
	require.NoError(t, err)
	require.Len(t, corrected, 2)
	corrected[0][domain.ColFundCode] = "FUNDA"
	corrected[1][domain.ColCountryCode] = "US"
	writeRows(t, path, corrected)

	accepted := make(map[string]map[string]string)
	proc := NewProcessor(repo, CollectionPortfolios, validation.PortfolioRules(),
		func(rows map[string]map[string]string) error {
			for id, row := range rows {
				accepted[id] = row
			}
			return nil
		}, zerolog.Nop())

	stats, err := proc.ProcessFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Groups)
	assert.Equal(t, 1, stats.Corrected)
	assert.Zero(t, stats.StillBroke)

	// Partial fixes on separate rows merge into one corrected record with
	// the same shape as a pipeline-produced document.
	require.Len(t, accepted, 1)
	assert.Equal(t, "FUNDA", accepted["ID1"][domain.ColFundCode])
	assert.Equal(t, "US", accepted["ID1"][domain.ColCountryCode])
	assert.NotContains(t, accepted["ID1"], ColIdentity)
	assert.NotContains(t, accepted["ID1"], ColFaultyColumn)

	n, err := repo.PendingCount(CollectionPortfolios)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The workbook is archived so the watcher cannot re-process it.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, ArchiveDir, "corrections.xlsx"))
	assert.NoError(t, err)
}

func TestIncompleteCorrectionStaysPending(t *testing.T) {
	repo := setupFaulty(t)
	dir := t.TempDir()

	payload := map[string]string{
		domain.ColFundCode:         "",
		domain.ColCountryCode:      "US",
		domain.ColYellowKeyCode:    "Equity",
		domain.ColSecurityCurrency: "USD",
	}
	_, err := repo.Record(CollectionPortfolios,
		[]domain.FaultyRecord{faultyRow("ID1", domain.ColFundCode, "No Fund Code found.", payload)})
	require.NoError(t, err)

	columns := []string{domain.ColFundCode, domain.ColCountryCode, domain.ColYellowKeyCode, domain.ColSecurityCurrency}
	path := filepath.Join(dir, "still_broken.xlsx")
	pending, err := repo.Pending(CollectionPortfolios)
	require.NoError(t, err)
	// Uploaded untouched: the fund code cell is still empty.
	require.NoError(t, WriteCorrectionFile(path, columns, pending))

	accepted := 0
	proc := NewProcessor(repo, CollectionPortfolios, validation.PortfolioRules(),
		func(rows map[string]map[string]string) error {
			accepted += len(rows)
			return nil
		}, zerolog.Nop())

	stats, err := proc.ProcessFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StillBroke)
	assert.Zero(t, stats.Corrected)
	assert.Zero(t, accepted)

	n, err := repo.PendingCount(CollectionPortfolios)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "uncorrected rows remain pending")
}

func TestUnfilledRaisedColumnStaysPending(t *testing.T) {
	repo := setupFaulty(t)
	dir := t.TempDir()

	// Raised on a column no standing trade rule re-checks.
	payload := map[string]string{
		domain.ColTradeFundCode:    "FUNDB",
		domain.ColSecurityCurrency: "USD",
		domain.ColCountryCode:      "US",
		domain.ColTransactionPrice: "",
	}
	_, err := repo.Record(CollectionTrades,
		[]domain.FaultyRecord{faultyRow("T1", domain.ColTransactionPrice, "No transaction price found.", payload)})
	require.NoError(t, err)

	columns := []string{domain.ColTradeFundCode, domain.ColSecurityCurrency, domain.ColCountryCode, domain.ColTransactionPrice}
	path := filepath.Join(dir, "trades.xlsx")
	pending, err := repo.Pending(CollectionTrades)
	require.NoError(t, err)
	require.NoError(t, WriteCorrectionFile(path, columns, pending))

	accepted := 0
	proc := NewProcessor(repo, CollectionTrades, validation.TradeRules(),
		func(rows map[string]map[string]string) error {
			accepted += len(rows)
			return nil
		}, zerolog.Nop())

	// Uploaded untouched: every standing rule passes, but the cell the
	// violation was raised on is still empty.
	stats, err := proc.ProcessFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StillBroke)
	assert.Zero(t, stats.Corrected)
	assert.Zero(t, accepted)

	n, err := repo.PendingCount(CollectionTrades)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "identity stays pending until the raised cell is filled")

	// Filling the price resolves it on the next round.
	rows, err := readWorkbook(filepath.Join(dir, ArchiveDir, "trades.xlsx"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	rows[0][domain.ColTransactionPrice] = "170.5"
	second := filepath.Join(dir, "trades_fixed.xlsx")
	writeRows(t, second, rows)

	stats, err = proc.ProcessFile(second)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Corrected)
	assert.Equal(t, 1, accepted)

	n, err = repo.PendingCount(CollectionTrades)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPendingColumns(t *testing.T) {
	repo := setupFaulty(t)
	rows := []domain.FaultyRecord{
		faultyRow("ID1", domain.ColFundCode, "No Fund Code found.", nil),
		faultyRow("ID1", domain.ColCountryCode, "No country code found.", nil),
		faultyRow("ID2", domain.ColFundCode, "No Fund Code found.", nil),
	}
	_, err := repo.Record(CollectionPortfolios, rows)
	require.NoError(t, err)

	columns, err := repo.PendingColumns(CollectionPortfolios, "ID1")
	require.NoError(t, err)
	assert.Equal(t, []string{domain.ColCountryCode, domain.ColFundCode}, columns)

	_, err = repo.Resolve(CollectionPortfolios, "ID1", time.Now())
	require.NoError(t, err)
	columns, err = repo.PendingColumns(CollectionPortfolios, "ID1")
	require.NoError(t, err)
	assert.Empty(t, columns)
}

type fakeMailer struct {
	sent        int
	subject     string
	attachments []string
}

func (m *fakeMailer) Send(subject, body string, attachments []string) error {
	m.sent++
	m.subject = subject
	m.attachments = attachments
	return nil
}

func TestNotifierSkipsWhenNothingPending(t *testing.T) {
	repo := setupFaulty(t)
	mailer := &fakeMailer{}
	notifier := NewNotifier(repo, CollectionPortfolios, []string{domain.ColFundCode}, t.TempDir(), mailer, zerolog.Nop())

	sent, err := notifier.Notify()
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, mailer.sent)
}

func TestNotifierExportsAndMails(t *testing.T) {
	repo := setupFaulty(t)
	_, err := repo.Record(CollectionPortfolios,
		[]domain.FaultyRecord{faultyRow("ID1", domain.ColFundCode, "No Fund Code found.", map[string]string{domain.ColFundCode: ""})})
	require.NoError(t, err)

	mailer := &fakeMailer{}
	notifier := NewNotifier(repo, CollectionPortfolios, []string{domain.ColFundCode}, t.TempDir(), mailer, zerolog.Nop())

	sent, err := notifier.Notify()
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, mailer.sent)
	require.Len(t, mailer.attachments, 1)
	_, err = os.Stat(mailer.attachments[0])
	assert.NoError(t, err)
}

func TestNotifierMailsEachRaisingOnce(t *testing.T) {
	repo := setupFaulty(t)
	mailer := &fakeMailer{}
	notifier := NewNotifier(repo, CollectionPortfolios, []string{domain.ColFundCode}, t.TempDir(), mailer, zerolog.Nop())

	_, err := repo.Record(CollectionPortfolios,
		[]domain.FaultyRecord{faultyRow("ID1", domain.ColFundCode, "No Fund Code found.", nil)})
	require.NoError(t, err)

	sent, err := notifier.Notify()
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	// Still pending, already mailed: the next run sends nothing.
	sent, err = notifier.Notify()
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 1, mailer.sent)

	n, err := repo.PendingCount(CollectionPortfolios)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "unmailed does not mean resolved")

	// A fresh raising goes out on the next run.
	_, err = repo.Record(CollectionPortfolios,
		[]domain.FaultyRecord{faultyRow("ID2", domain.ColCountryCode, "No country code found.", nil)})
	require.NoError(t, err)

	sent, err = notifier.Notify()
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, mailer.sent)
}

// writeRows rewrites a correction workbook from header-keyed rows, keeping
// the original header order.
func writeRows(t *testing.T, path string, rows []map[string]string) {
	t.Helper()

	var records []domain.FaultyRecord
	var columns []string
	seen := map[string]bool{}
	for _, row := range rows {
		for col := range row {
			if col == ColIdentity || col == ColFaultyColumn || col == ColReason {
				continue
			}
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	for _, row := range rows {
		records = append(records, domain.FaultyRecord{
			Identity: row[ColIdentity],
			Column:   row[ColFaultyColumn],
			Reason:   row[ColReason],
			Payload:  row,
		})
	}
	require.NoError(t, WriteCorrectionFile(path, columns, records))
}
