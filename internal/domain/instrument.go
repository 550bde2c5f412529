package domain

// Instrument is a reference-data row destined for the security master,
// keyed by FIGI code plus currency. String fields use "" as null.
type Instrument struct {
	SecurityName            string
	YellowKeyCode           string
	UnderlyingSecurityName  string
	Currency                string
	FigiCode                string
	BloombergCode           string
	UnderlyingBloombergCode string
	GTICode                 string
	SecondQuotationCcy      string
	IssuerCountryCode       string
	IssuerCountry           string
}

// instrumentFields lists the source-supplied fields that count towards the
// completeness score. IssuerCountry is derived (country-name join) and is
// deliberately excluded.
func (i Instrument) instrumentFields() []string {
	return []string{
		i.SecurityName, i.YellowKeyCode, i.UnderlyingSecurityName,
		i.Currency, i.FigiCode, i.BloombergCode,
		i.UnderlyingBloombergCode, i.GTICode, i.SecondQuotationCcy,
		i.IssuerCountryCode,
	}
}

// Completeness is the count of non-null source fields. Duplicate resolution
// keeps the candidate with the highest score.
func (i Instrument) Completeness() int {
	score := 0
	for _, f := range i.instrumentFields() {
		if f != "" {
			score++
		}
	}
	return score
}
