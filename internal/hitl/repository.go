// Package hitl is the human-in-the-loop correction surface: persistence of
// faulty records, export of correction workbooks, and re-ingestion of
// operator-corrected rows.
package hitl

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nninov/ngt/internal/database"
	"github.com/nninov/ngt/internal/domain"
	"github.com/rs/zerolog"
)

// Faulty collections, one per ingestion pipeline.
const (
	CollectionPortfolios = "faulty_portfolios"
	CollectionTrades     = "faulty_trades"
)

var validCollections = map[string]bool{
	CollectionPortfolios: true,
	CollectionTrades:     true,
}

// Schema creates the faulty-record tables. The primary key on
// (identity, column_name) is the dedup rule: re-raising a known violation
// is a no-op while it is pending.
const Schema = `
CREATE TABLE IF NOT EXISTS faulty_portfolios (
	identity    TEXT NOT NULL,
	column_name TEXT NOT NULL,
	reason      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	raised_at   TEXT NOT NULL,
	notified_at TEXT,
	resolved_at TEXT,
	payload     TEXT NOT NULL,
	PRIMARY KEY (identity, column_name)
);
CREATE TABLE IF NOT EXISTS faulty_trades (
	identity    TEXT NOT NULL,
	column_name TEXT NOT NULL,
	reason      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	raised_at   TEXT NOT NULL,
	notified_at TEXT,
	resolved_at TEXT,
	payload     TEXT NOT NULL,
	PRIMARY KEY (identity, column_name)
);
`

// Repository persists faulty records awaiting human correction.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a faulty-record repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "faulty").Logger()}
}

// EnsureSchema creates the faulty tables if they do not exist yet.
func (r *Repository) EnsureSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create faulty schema: %w", err)
	}
	return nil
}

func checkCollection(collection string) error {
	if !validCollections[collection] {
		return fmt.Errorf("invalid faulty collection: %s", collection)
	}
	return nil
}

// Record stores newly raised faulty rows. Rows already pending for the same
// (identity, column) are left untouched. Returns the number stored.
func (r *Repository) Record(collection string, records []domain.FaultyRecord) (int, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	added := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(fmt.Sprintf(
			`INSERT INTO %s (identity, column_name, reason, status, raised_at, payload)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(identity, column_name) DO NOTHING`, collection))
		if err != nil {
			return fmt.Errorf("failed to prepare faulty insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			payload, err := json.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal faulty payload: %w", err)
			}
			res, err := stmt.Exec(rec.Identity, rec.Column, rec.Reason,
				string(domain.FaultyPending), rec.RaisedAt.UTC().Format(time.RFC3339), string(payload))
			if err != nil {
				return fmt.Errorf("failed to record faulty row %s/%s: %w", rec.Identity, rec.Column, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if added > 0 {
		r.log.Info().Str("collection", collection).Int("rows", added).Msg("Recorded faulty rows")
	}
	return added, nil
}

// Pending returns every faulty row still awaiting correction, oldest first.
func (r *Repository) Pending(collection string) ([]domain.FaultyRecord, error) {
	return r.pendingWhere(collection, "")
}

// Unnotified returns the pending rows whose raising has not been mailed out
// yet, oldest first.
func (r *Repository) Unnotified(collection string) ([]domain.FaultyRecord, error) {
	return r.pendingWhere(collection, " AND notified_at IS NULL")
}

func (r *Repository) pendingWhere(collection, extra string) ([]domain.FaultyRecord, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(fmt.Sprintf(
		`SELECT identity, column_name, reason, status, raised_at, resolved_at, payload
		 FROM %s WHERE status = ?%s ORDER BY raised_at, identity, column_name`, collection, extra),
		string(domain.FaultyPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending faulty rows: %w", err)
	}
	defer rows.Close()

	var records []domain.FaultyRecord
	for rows.Next() {
		var rec domain.FaultyRecord
		var status, raisedAt, payload string
		var resolvedAt sql.NullString
		if err := rows.Scan(&rec.Identity, &rec.Column, &rec.Reason, &status, &raisedAt, &resolvedAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan faulty row: %w", err)
		}
		rec.Status = domain.FaultyStatus(status)
		rec.RaisedAt, _ = time.Parse(time.RFC3339, raisedAt)
		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339, resolvedAt.String)
			rec.ResolvedAt = &t
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode faulty payload: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PendingColumns returns the columns an identity's pending violations were
// raised on.
func (r *Repository) PendingColumns(collection, identity string) ([]string, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(fmt.Sprintf(
		"SELECT column_name FROM %s WHERE identity = ? AND status = ? ORDER BY column_name", collection),
		identity, string(domain.FaultyPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending columns for %s: %w", identity, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("failed to scan pending column: %w", err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// MarkNotified stamps rows as mailed so each raising is notified exactly
// once, however often the notify job fires.
func (r *Repository) MarkNotified(collection string, records []domain.FaultyRecord, at time.Time) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(fmt.Sprintf(
			"UPDATE %s SET notified_at = ? WHERE identity = ? AND column_name = ? AND notified_at IS NULL", collection))
		if err != nil {
			return fmt.Errorf("failed to prepare notified update: %w", err)
		}
		defer stmt.Close()

		stamp := at.UTC().Format(time.RFC3339)
		for _, rec := range records {
			if _, err := stmt.Exec(stamp, rec.Identity, rec.Column); err != nil {
				return fmt.Errorf("failed to mark %s/%s notified: %w", rec.Identity, rec.Column, err)
			}
		}
		return nil
	})
}

// Resolve marks every pending row sharing an identity as completed. A human
// corrects a record, not an individual cell, so all of its violations close
// together. Returns the number of rows closed.
func (r *Repository) Resolve(collection, identity string, resolvedAt time.Time) (int, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}

	res, err := r.db.Exec(fmt.Sprintf(
		"UPDATE %s SET status = ?, resolved_at = ? WHERE identity = ? AND status = ?", collection),
		string(domain.FaultyCompleted), resolvedAt.UTC().Format(time.RFC3339),
		identity, string(domain.FaultyPending))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve faulty rows for %s: %w", identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read resolve result: %w", err)
	}
	return int(n), nil
}

// PendingCount reports the number of pending faulty rows per collection.
func (r *Repository) PendingCount(collection string) (int, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	var n int
	err := r.db.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = ?", collection),
		string(domain.FaultyPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending faulty rows: %w", err)
	}
	return n, nil
}
