// Package securities is the reference-data store: the security master fed by
// canonical instruments and enriched by external lookups, the price points
// derived from trades, and the country-code mappings used by both pipelines.
package securities

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nninov/ngt/internal/database"
	"github.com/nninov/ngt/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Schema creates the processed reference-data tables.
const Schema = `
CREATE TABLE IF NOT EXISTS security_master (
	figi_code                TEXT,
	ccy                      TEXT,
	security_name            TEXT,
	yellow_key_code          TEXT,
	underlying_security_name TEXT,
	bbg_code                 TEXT,
	underlying_bbg_code      TEXT,
	gti_code                 TEXT,
	second_quotation_ccy     TEXT,
	issuer_country_code      TEXT,
	issuer_country           TEXT,
	security_type            TEXT NOT NULL DEFAULT '',
	security_type_2          TEXT NOT NULL DEFAULT '',
	upload_timestamp         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_master_figi ON security_master(figi_code, ccy);

CREATE TABLE IF NOT EXISTS prices (
	date         TEXT NOT NULL,
	bbg_code     TEXT NOT NULL,
	price        TEXT,
	pct_change   TEXT,
	ccy          TEXT,
	country_code TEXT,
	UNIQUE (date, bbg_code, ccy)
);

CREATE TABLE IF NOT EXISTS country_mappings (
	country_name TEXT NOT NULL,
	country_code TEXT NOT NULL,
	UNIQUE (country_name, country_code)
);
`

// Security is one security-master row.
type Security struct {
	RowID int64

	Instrument    domain.Instrument
	SecurityType  string
	SecurityType2 string
	UploadedAt    time.Time
}

// PricePoint is one observed (or business-day gap-filled) price.
type PricePoint struct {
	Date          time.Time
	BloombergCode string
	Price         decimal.NullDecimal
	PctChange     string
	Currency      string
	CountryCode   string
}

// Repository handles reference-data database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new reference-data repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "securities").Logger()}
}

// EnsureSchema creates the reference tables if they do not exist yet.
func (r *Repository) EnsureSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create securities schema: %w", err)
	}
	return nil
}

const securityColumns = `rowid, figi_code, ccy, security_name, yellow_key_code,
underlying_security_name, bbg_code, underlying_bbg_code, gti_code,
second_quotation_ccy, issuer_country_code, issuer_country,
security_type, security_type_2, upload_timestamp`

// InsertNew inserts the instruments that do not already exist in the
// security master, where "exists" means every instrument field matches.
// Returns the number of rows added.
func (r *Repository) InsertNew(insts []domain.Instrument) (int, error) {
	if len(insts) == 0 {
		return 0, nil
	}

	added := 0
	now := time.Now().UTC().Format(time.RFC3339)

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, inst := range insts {
			var n int
			err := tx.QueryRow(`SELECT COUNT(*) FROM security_master WHERE
				figi_code = ? AND ccy = ? AND security_name = ? AND yellow_key_code = ? AND
				underlying_security_name = ? AND bbg_code = ? AND underlying_bbg_code = ? AND
				gti_code = ? AND second_quotation_ccy = ? AND issuer_country_code = ? AND issuer_country = ?`,
				inst.FigiCode, inst.Currency, inst.SecurityName, inst.YellowKeyCode,
				inst.UnderlyingSecurityName, inst.BloombergCode, inst.UnderlyingBloombergCode,
				inst.GTICode, inst.SecondQuotationCcy, inst.IssuerCountryCode, inst.IssuerCountry,
			).Scan(&n)
			if err != nil {
				return fmt.Errorf("failed to check existing security: %w", err)
			}
			if n > 0 {
				continue
			}

			_, err = tx.Exec(`INSERT INTO security_master (
				figi_code, ccy, security_name, yellow_key_code, underlying_security_name,
				bbg_code, underlying_bbg_code, gti_code, second_quotation_ccy,
				issuer_country_code, issuer_country, upload_timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				inst.FigiCode, inst.Currency, inst.SecurityName, inst.YellowKeyCode,
				inst.UnderlyingSecurityName, inst.BloombergCode, inst.UnderlyingBloombergCode,
				inst.GTICode, inst.SecondQuotationCcy, inst.IssuerCountryCode, inst.IssuerCountry, now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert security %s: %w", inst.FigiCode, err)
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if added > 0 {
		r.log.Info().Int("rows", added).Msg("Added new securities")
	}
	return added, nil
}

// GetByFigi returns the security-master row for (figi, ccy).
// Returns nil, nil when no row exists.
func (r *Repository) GetByFigi(figi, ccy string) (*Security, error) {
	row := r.db.QueryRow(
		"SELECT "+securityColumns+" FROM security_master WHERE figi_code = ? AND ccy = ?",
		figi, ccy,
	)

	var s Security
	var uploadedAt string
	i := &s.Instrument
	err := row.Scan(&s.RowID, &i.FigiCode, &i.Currency, &i.SecurityName, &i.YellowKeyCode,
		&i.UnderlyingSecurityName, &i.BloombergCode, &i.UnderlyingBloombergCode, &i.GTICode,
		&i.SecondQuotationCcy, &i.IssuerCountryCode, &i.IssuerCountry,
		&s.SecurityType, &s.SecurityType2, &uploadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query security %s/%s: %w", figi, ccy, err)
	}
	s.UploadedAt, _ = time.Parse(time.RFC3339, uploadedAt)
	return &s, nil
}

// Update rewrites an existing security-master row in place.
func (r *Repository) Update(s *Security) error {
	i := s.Instrument
	_, err := r.db.Exec(`UPDATE security_master SET
		figi_code = ?, ccy = ?, security_name = ?, yellow_key_code = ?,
		underlying_security_name = ?, bbg_code = ?, underlying_bbg_code = ?,
		gti_code = ?, second_quotation_ccy = ?, issuer_country_code = ?,
		issuer_country = ?, security_type = ?, security_type_2 = ?, upload_timestamp = ?
		WHERE rowid = ?`,
		i.FigiCode, i.Currency, i.SecurityName, i.YellowKeyCode,
		i.UnderlyingSecurityName, i.BloombergCode, i.UnderlyingBloombergCode,
		i.GTICode, i.SecondQuotationCcy, i.IssuerCountryCode, i.IssuerCountry,
		s.SecurityType, s.SecurityType2, time.Now().UTC().Format(time.RFC3339), s.RowID,
	)
	if err != nil {
		return fmt.Errorf("failed to update security %s: %w", i.FigiCode, err)
	}
	return nil
}

// Count returns the number of security-master rows.
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM security_master").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count securities: %w", err)
	}
	return n, nil
}

// InsertPrices appends distinct price points, ignoring exact repeats of a
// (date, instrument, currency) observation.
func (r *Repository) InsertPrices(points []PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO prices (date, bbg_code, price, pct_change, ccy, country_code)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(date, bbg_code, ccy) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare price insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			var price interface{}
			if p.Price.Valid {
				price = p.Price.Decimal.String()
			}
			_, err := stmt.Exec(p.Date.Format(domain.DateFormat), p.BloombergCode, price, p.PctChange, p.Currency, p.CountryCode)
			if err != nil {
				return fmt.Errorf("failed to insert price for %s: %w", p.BloombergCode, err)
			}
		}
		return nil
	})
}

// SeedCountryMappings inserts the (name, code) pairs that are not stored
// yet. Existing pairs are left untouched.
func (r *Repository) SeedCountryMappings(pairs map[string]string) (int, error) {
	added := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for name, code := range pairs {
			res, err := tx.Exec(
				"INSERT INTO country_mappings (country_name, country_code) VALUES (?, ?) ON CONFLICT(country_name, country_code) DO NOTHING",
				name, code,
			)
			if err != nil {
				return fmt.Errorf("failed to insert country mapping %s: %w", name, err)
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
	return added, nil
}

// CountryNames returns the code -> name mapping.
func (r *Repository) CountryNames() (map[string]string, error) {
	rows, err := r.db.Query("SELECT country_code, country_name FROM country_mappings")
	if err != nil {
		return nil, fmt.Errorf("failed to query country mappings: %w", err)
	}
	defer rows.Close()

	mapping := make(map[string]string)
	for rows.Next() {
		var code, name string
		if err := rows.Scan(&code, &name); err != nil {
			return nil, fmt.Errorf("failed to scan country mapping: %w", err)
		}
		mapping[code] = name
	}
	return mapping, rows.Err()
}
