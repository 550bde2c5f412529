package enrichment

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nninov/ngt/internal/domain"
	"github.com/rs/zerolog"
)

// QueueSchema creates the enrichment queue. The primary key on
// (identifier, ccy) is what makes Enqueue a no-op for already queued pairs.
const QueueSchema = `
CREATE TABLE IF NOT EXISTS figi_queue (
	identifier   TEXT NOT NULL,
	ccy          TEXT NOT NULL,
	queued_at    TEXT NOT NULL,
	completed_at TEXT,
	found        INTEGER,
	applied_at   TEXT,
	PRIMARY KEY (identifier, ccy)
);
CREATE INDEX IF NOT EXISTS idx_figi_queue_pending ON figi_queue(completed_at) WHERE completed_at IS NULL;
`

// QueueStats summarizes queue state for the ops surface.
type QueueStats struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Found     int `json:"found"`
	Applied   int `json:"applied"`
}

// QueueRepository persists enrichment queue entries.
type QueueRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewQueueRepository creates a new enrichment queue repository.
func NewQueueRepository(db *sql.DB, log zerolog.Logger) *QueueRepository {
	return &QueueRepository{db: db, log: log.With().Str("repo", "figi_queue").Logger()}
}

// EnsureSchema creates the queue table if it does not exist yet.
func (r *QueueRepository) EnsureSchema() error {
	if _, err := r.db.Exec(QueueSchema); err != nil {
		return fmt.Errorf("failed to create queue schema: %w", err)
	}
	return nil
}

// Enqueue adds a lookup for (identifier, ccy) unless one is already queued,
// completed or applied. Returns true when a new entry was created.
func (r *QueueRepository) Enqueue(identifier, ccy string) (bool, error) {
	if identifier == "" {
		return false, nil
	}

	res, err := r.db.Exec(
		"INSERT INTO figi_queue (identifier, ccy, queued_at) VALUES (?, ?, ?) ON CONFLICT(identifier, ccy) DO NOTHING",
		identifier, ccy, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s/%s: %w", identifier, ccy, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read enqueue result: %w", err)
	}
	return n > 0, nil
}

const entryColumns = "identifier, ccy, queued_at, completed_at, found, applied_at"

// Pending returns up to limit entries that have not been completed yet,
// oldest first. limit <= 0 means no limit.
func (r *QueueRepository) Pending(limit int) ([]domain.QueueEntry, error) {
	query := "SELECT " + entryColumns + " FROM figi_queue WHERE completed_at IS NULL ORDER BY queued_at"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryEntries(query, args...)
}

// CompletedUnapplied returns entries completed with found=true that have not
// been applied to the security master yet.
func (r *QueueRepository) CompletedUnapplied() ([]domain.QueueEntry, error) {
	query := "SELECT " + entryColumns +
		" FROM figi_queue WHERE completed_at IS NOT NULL AND found = 1 AND applied_at IS NULL ORDER BY completed_at"
	return r.queryEntries(query)
}

// Complete marks an entry completed exactly once. The completed_at IS NULL
// guard turns a lost race between concurrent drains into
// AlreadyCompletedError, which callers swallow.
func (r *QueueRepository) Complete(identifier, ccy string, found bool) error {
	res, err := r.db.Exec(
		"UPDATE figi_queue SET completed_at = ?, found = ? WHERE identifier = ? AND ccy = ? AND completed_at IS NULL",
		time.Now().UTC().Format(time.RFC3339), found, identifier, ccy,
	)
	if err != nil {
		return fmt.Errorf("failed to complete %s/%s: %w", identifier, ccy, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read completion result: %w", err)
	}
	if n == 0 {
		return domain.AlreadyCompletedError{Identifier: identifier, Currency: ccy}
	}
	return nil
}

// MarkApplied records that a completed entry's payload reached the security
// master. Guarded the same way as Complete; an entry is immutable afterward.
func (r *QueueRepository) MarkApplied(identifier, ccy string) error {
	res, err := r.db.Exec(
		"UPDATE figi_queue SET applied_at = ? WHERE identifier = ? AND ccy = ? AND completed_at IS NOT NULL AND found = 1 AND applied_at IS NULL",
		time.Now().UTC().Format(time.RFC3339), identifier, ccy,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s applied: %w", identifier, ccy, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read apply result: %w", err)
	}
	if n == 0 {
		return domain.AlreadyCompletedError{Identifier: identifier, Currency: ccy}
	}
	return nil
}

// Stats reports queue counts for the ops surface.
func (r *QueueRepository) Stats() (QueueStats, error) {
	var s QueueStats
	err := r.db.QueryRow(`SELECT
		COUNT(*) FILTER (WHERE completed_at IS NULL),
		COUNT(*) FILTER (WHERE completed_at IS NOT NULL),
		COUNT(*) FILTER (WHERE found = 1),
		COUNT(*) FILTER (WHERE applied_at IS NOT NULL)
		FROM figi_queue`).Scan(&s.Pending, &s.Completed, &s.Found, &s.Applied)
	if err != nil {
		return QueueStats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return s, nil
}

func (r *QueueRepository) queryEntries(query string, args ...interface{}) ([]domain.QueueEntry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		var e domain.QueueEntry
		var queuedAt string
		var completedAt, appliedAt sql.NullString
		var found sql.NullBool
		if err := rows.Scan(&e.Identifier, &e.Currency, &queuedAt, &completedAt, &found, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		e.QueuedAt, _ = time.Parse(time.RFC3339, queuedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			e.CompletedAt = &t
		}
		if found.Valid {
			f := found.Bool
			e.Found = &f
		}
		if appliedAt.Valid {
			t, _ := time.Parse(time.RFC3339, appliedAt.String)
			e.AppliedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
