package domain

import "time"

// FaultyStatus is the correction state of a faulty record.
type FaultyStatus string

const (
	// FaultyPending - raised and waiting for a human correction.
	FaultyPending FaultyStatus = "pending"
	// FaultyCompleted - a corrected row has been accepted. Terminal.
	FaultyCompleted FaultyStatus = "completed"
)

// FaultyRecord is one violated rule on one record. A record failing k rules
// produces k faulty rows sharing its identity, deduplicated by
// (identity, column). Payload is the full flattened row so the correction
// file can be rebuilt without re-reading the source drop.
type FaultyRecord struct {
	Identity   string
	Column     string
	Reason     string
	Status     FaultyStatus
	RaisedAt   time.Time
	ResolvedAt *time.Time
	Payload    map[string]string
}

// QueueEntry is one outstanding external lookup. Lifecycle:
// queued (CompletedAt nil) -> completed exactly once (Found set) ->
// applied at most once, and only when Found is true. Immutable after
// AppliedAt is set.
type QueueEntry struct {
	Identifier  string
	Currency    string
	QueuedAt    time.Time
	CompletedAt *time.Time
	Found       *bool
	AppliedAt   *time.Time
}
