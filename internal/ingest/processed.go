package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nninov/ngt/internal/database"
	"github.com/rs/zerolog"
)

// Processed collections, one per pipeline.
const (
	ProcessedPortfolios = "processed_portfolios"
	ProcessedTrades     = "processed_trades"
)

var processedCollections = map[string]bool{
	ProcessedPortfolios: true,
	ProcessedTrades:     true,
}

// ProcessedSchema creates the consistent-record store. Identity is the key:
// a corrected row replaces the faulty original's slot.
const ProcessedSchema = `
CREATE TABLE IF NOT EXISTS processed_portfolios (
	id        TEXT PRIMARY KEY,
	data      TEXT NOT NULL,
	stored_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS processed_trades (
	id        TEXT PRIMARY KEY,
	data      TEXT NOT NULL,
	stored_at TEXT NOT NULL
);
`

// ProcessedStore persists validated record documents.
type ProcessedStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewProcessedStore creates a processed-record store.
func NewProcessedStore(db *sql.DB, log zerolog.Logger) *ProcessedStore {
	return &ProcessedStore{db: db, log: log.With().Str("repo", "processed").Logger()}
}

// EnsureSchema creates the processed tables if they do not exist yet.
func (s *ProcessedStore) EnsureSchema() error {
	if _, err := s.db.Exec(ProcessedSchema); err != nil {
		return fmt.Errorf("failed to create processed schema: %w", err)
	}
	return nil
}

func checkProcessedCollection(collection string) error {
	if !processedCollections[collection] {
		return fmt.Errorf("invalid processed collection: %s", collection)
	}
	return nil
}

// Upsert stores documents keyed by identity, replacing earlier versions.
// Corrections re-enter through here, so replace (not ignore) is the rule.
func (s *ProcessedStore) Upsert(collection string, docs map[string]map[string]string) error {
	if err := checkProcessedCollection(collection); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(fmt.Sprintf(
			"INSERT OR REPLACE INTO %s (id, data, stored_at) VALUES (?, ?, ?)", collection))
		if err != nil {
			return fmt.Errorf("failed to prepare processed upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC().Format(time.RFC3339)
		for id, doc := range docs {
			data, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to marshal processed document: %w", err)
			}
			if _, err := stmt.Exec(id, string(data), now); err != nil {
				return fmt.Errorf("failed to upsert processed document %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("collection", collection).Int("rows", len(docs)).Msg("Stored processed documents")
	return nil
}

// Get returns one document by identity, nil when absent.
func (s *ProcessedStore) Get(collection, id string) (map[string]string, error) {
	if err := checkProcessedCollection(collection); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRow(fmt.Sprintf("SELECT data FROM %s WHERE id = ?", collection), id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed document %s: %w", id, err)
	}

	var doc map[string]string
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode processed document %s: %w", id, err)
	}
	return doc, nil
}

// Count returns the number of stored documents in a collection.
func (s *ProcessedStore) Count(collection string) (int, error) {
	if err := checkProcessedCollection(collection); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", collection)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count processed documents: %w", err)
	}
	return n, nil
}
