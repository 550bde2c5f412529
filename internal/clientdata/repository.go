// Package clientdata provides persistent storage for external lookup-service
// payloads. Results are stored as JSON blobs keyed by (identifier, currency)
// so the reference applier can run long after the drain that fetched them.
package clientdata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Schema creates the api payload store.
const Schema = `
CREATE TABLE IF NOT EXISTS open_figi (
	identifier TEXT NOT NULL,
	ccy        TEXT NOT NULL,
	data       TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (identifier, ccy)
);
`

// Repository provides payload cache operations.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new payload repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the payload table if it does not exist yet.
func (r *Repository) EnsureSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create api payload schema: %w", err)
	}
	return nil
}

// Store saves a lookup result, replacing any previous payload for the same
// identifier. Classification data should track the latest the external
// source knows, so newest always wins.
func (r *Repository) Store(identifier, ccy string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = r.db.Exec(
		"INSERT OR REPLACE INTO open_figi (identifier, ccy, data, fetched_at) VALUES (?, ?, ?, ?)",
		identifier, ccy, string(jsonData), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to store payload for %s: %w", identifier, err)
	}
	return nil
}

// Get returns the stored payload for (identifier, ccy).
// Returns nil, nil if no payload exists.
func (r *Repository) Get(identifier, ccy string) (json.RawMessage, error) {
	var data string
	err := r.db.QueryRow(
		"SELECT data FROM open_figi WHERE identifier = ? AND ccy = ?",
		identifier, ccy,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payload for %s: %w", identifier, err)
	}
	return json.RawMessage(data), nil
}
