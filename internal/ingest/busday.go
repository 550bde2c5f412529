// Package ingest turns dropped source files into validated, identity-keyed
// records: parsing, deduplication against the upload ledger, derived
// columns, validation routing and the instrument flow into reference data.
package ingest

import "time"

// IsBusinessDay reports whether d falls on a weekday. Exchange holidays are
// out of scope; the calendar is weekends-only.
func IsBusinessDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// PreviousBusinessDay returns the closest weekday strictly before d.
func PreviousBusinessDay(d time.Time) time.Time {
	for {
		d = d.AddDate(0, 0, -1)
		if IsBusinessDay(d) {
			return d
		}
	}
}

// BusinessDaysBetween returns every weekday in [from, to], inclusive,
// in ascending order.
func BusinessDaysBetween(from, to time.Time) []time.Time {
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if IsBusinessDay(d) {
			days = append(days, d)
		}
	}
	return days
}
