// Package ledger tracks which record identities have already been persisted
// to a raw store. The raw tables themselves are the ledger: an identity is
// known exactly when a document with that id has been appended, and rows are
// never removed, so the ledger is always a superset of everything persisted.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nninov/ngt/internal/database"
	"github.com/nninov/ngt/internal/domain"
	"github.com/rs/zerolog"
)

// Collection names backed by the raw store.
const (
	CollectionPortfolios = "raw_portfolios"
	CollectionTrades     = "raw_trades"
)

// Collections lists every valid raw collection.
var Collections = []string{CollectionPortfolios, CollectionTrades}

// validCollections is a set for table name validation. This prevents SQL
// injection through collection names.
var validCollections = func() map[string]bool {
	m := make(map[string]bool, len(Collections))
	for _, c := range Collections {
		m[c] = true
	}
	return m
}()

// Schema creates the raw collections. The primary key on id makes the
// append idempotent at the store: re-inserting a bit-identical document is
// a no-op conflict, never corruption.
const Schema = `
CREATE TABLE IF NOT EXISTS raw_portfolios (
	id          TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	uploaded_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS raw_trades (
	id          TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	uploaded_at TEXT NOT NULL
);
`

// existsChunkSize bounds the number of ids in a single IN (...) existence
// query. SQLite's default variable limit is 999.
const existsChunkSize = 500

// Document is anything with a derived identity.
type Document interface {
	Identity() string
	Document() map[string]string
}

// Repository provides upload-ledger operations over the raw store.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new upload ledger repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "ledger").Logger()}
}

// EnsureSchema creates the raw tables if they do not exist yet.
func (r *Repository) EnsureSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create raw schema: %w", err)
	}
	return nil
}

func validateCollection(collection string) error {
	if !validCollections[collection] {
		return fmt.Errorf("invalid raw collection: %s", collection)
	}
	return nil
}

// Existing returns the subset of ids already present in the collection,
// in batched round trips.
func (r *Repository) Existing(collection string, ids []string) (map[string]struct{}, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	// Deduplicate the lookup set first.
	seen := make(map[string]struct{}, len(ids))
	distinct := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	existing := make(map[string]struct{})
	for start := 0; start < len(distinct); start += existsChunkSize {
		end := start + existsChunkSize
		if end > len(distinct) {
			end = len(distinct)
		}
		chunk := distinct[start:end]

		placeholders := strings.TrimRight(strings.Repeat("?,", len(chunk)), ",")
		query := fmt.Sprintf("SELECT id FROM %s WHERE id IN (%s)", collection, placeholders)

		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := r.db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing ids in %s: %w", collection, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan id: %w", err)
			}
			existing[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate existing ids: %w", err)
		}
		rows.Close()
	}

	return existing, nil
}

// Append durably adds documents (and with them their identities) to the
// collection. Append-only: nothing is ever removed. A conflicting id means
// a concurrent ingest won the race for a bit-identical document, which is
// harmless, so conflicts are ignored.
func (r *Repository) Append(collection string, docs []Document) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := fmt.Sprintf(
		"INSERT INTO %s (id, data, uploaded_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING",
		collection,
	)

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, doc := range docs {
			data, err := json.Marshal(doc.Document())
			if err != nil {
				return fmt.Errorf("failed to marshal document %s: %w", doc.Identity(), err)
			}
			if _, err := stmt.Exec(doc.Identity(), string(data), now); err != nil {
				return fmt.Errorf("failed to insert document %s: %w", doc.Identity(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Str("collection", collection).Int("rows", len(docs)).Msg("Appended raw documents")
	return nil
}

// Count returns the number of identities recorded for a collection.
func (r *Repository) Count(collection string) (int, error) {
	if err := validateCollection(collection); err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM " + collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// FilterNew partitions a batch into records whose identity is not yet in
// the ledger and records already present. The existence check runs as one
// batched lookup, which makes re-running the pipeline on the same file
// idempotent: the second run sees every identity as present.
func FilterNew[D Document](r *Repository, collection string, records []D) (fresh, present []D, err error) {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.Identity()
	}

	existing, err := r.Existing(collection, ids)
	if err != nil {
		return nil, nil, err
	}

	// A duplicate id inside the batch itself counts as present after its
	// first occurrence, mirroring what a second round trip would report.
	taken := make(map[string]struct{}, len(records))
	for _, rec := range records {
		id := rec.Identity()
		if _, ok := existing[id]; ok {
			present = append(present, rec)
			continue
		}
		if _, ok := taken[id]; ok {
			present = append(present, rec)
			continue
		}
		taken[id] = struct{}{}
		fresh = append(fresh, rec)
	}

	r.log.Info().
		Str("collection", collection).
		Int("total", len(records)).
		Int("found", len(present)).
		Int("new", len(fresh)).
		Msg("Filtered batch against upload ledger")

	return fresh, present, nil
}

// RawDocuments loads every stored document of a collection, newest first.
// Used by the instrument and enrichment flows which work off the raw rows
// accepted by the current run.
func (r *Repository) RawDocuments(collection string) ([]map[string]string, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	rows, err := r.db.Query("SELECT data FROM " + collection + " ORDER BY uploaded_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []map[string]string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		var doc map[string]string
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

var _ Document = domain.PortfolioRecord{}
var _ Document = domain.TradeRecord{}
