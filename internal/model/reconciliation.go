package model

import "time"

// ReconciliationCheckpoint records the last chain block whose status events
// have been fully replayed into the local store. It only advances after an
// entire range is processed, so a crash mid-range replays rather than skips.
type ReconciliationCheckpoint struct {
	ID          int       `db:"id" json:"id"`
	BlockNumber int64     `db:"block_number" json:"block_number"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ReconciliationSummary tallies one reconciliation pass. Per-event failures
// are counted, not fatal: one bad event must not abort the range.
type ReconciliationSummary struct {
	FromBlock int64     `json:"from_block"`
	ToBlock   int64     `json:"to_block"`
	Inserted  int       `json:"inserted"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Errored   int       `json:"errored"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}
