package domain

import "fmt"

// IdentityError means a record's key fields are too incomplete to derive an
// identity. Fatal for that record only - it is excluded from the batch and
// never retried.
type IdentityError struct {
	Reason string
}

func (e IdentityError) Error() string {
	return fmt.Sprintf("cannot derive identity: %s", e.Reason)
}

// AlreadyCompletedError is the benign race on a completion guard: two drains
// passed the completed_at check for the same entry and the slower writer
// lost. Callers swallow it.
type AlreadyCompletedError struct {
	Identifier string
	Currency   string
}

func (e AlreadyCompletedError) Error() string {
	return fmt.Sprintf("queue entry %s/%s already completed", e.Identifier, e.Currency)
}

// MissingReferenceRowError means enrichment ran ahead of ingestion: a lookup
// completed but no matching security-master row exists yet. Surfaced to the
// operator, not retried automatically.
type MissingReferenceRowError struct {
	Identifier string
	Currency   string
}

func (e MissingReferenceRowError) Error() string {
	return fmt.Sprintf("no security master row for %s/%s", e.Identifier, e.Currency)
}

// ExternalLookupFailure is a transient lookup-service failure (timeout, 5xx,
// server-side rate rejection). The queue entry stays incomplete and is
// picked up again by a future drain.
type ExternalLookupFailure struct {
	Identifier string
	Err        error
}

func (e ExternalLookupFailure) Error() string {
	return fmt.Sprintf("external lookup failed for %s: %v", e.Identifier, e.Err)
}

func (e ExternalLookupFailure) Unwrap() error { return e.Err }
