package domain

import "time"

// UnitState tracks a unit through the pipeline:
//
//	Pending -> Fetched -> Normalized -> Persisted
//	Pending | Fetched | Normalized -> Failed
//
// A retryable failure sends the unit back to Pending until the attempt cap.
type UnitState string

const (
	StatePending    UnitState = "pending"
	StateFetched    UnitState = "fetched"
	StateNormalized UnitState = "normalized"
	StatePersisted  UnitState = "persisted"
	StateFailed     UnitState = "failed"
)

// WholeState is the unit code of a result that covers a state whose units
// were never enumerated.
const WholeState = "*"

// UnitResult is the terminal outcome of one unit. For enumeration failures
// Unit.Code is WholeState.
type UnitResult struct {
	RunID    string        `json:"run_id"`
	Unit     GeographyUnit `json:"unit"`
	State    UnitState     `json:"state"`
	Stage    UnitState     `json:"stage,omitempty"` // last state reached before failing
	Attempts int           `json:"attempts"`
	Dropped  int           `json:"dropped_labels"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Finished time.Time     `json:"finished_at"`

	Err error `json:"-"`
}

// StateLevel reports whether the result stands for a whole state rather
// than a single unit.
func (r UnitResult) StateLevel() bool {
	return r.Unit.Code == WholeState
}

// Failed reports whether the unit ended in StateFailed.
func (r UnitResult) Failed() bool {
	return r.State == StateFailed
}
