package pipeline

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

// Report is the terminal outcome of a run. Failed lists every unit that did
// not persist, with its cause, for operator follow-up. FailedStates lists
// states that were never enumerated. Re-running the same states retries
// both.
type Report struct {
	RunID         string              `json:"run_id"`
	Kind          domain.Kind         `json:"kind"`
	States        []string            `json:"states"`
	Started       time.Time           `json:"started_at"`
	Finished      time.Time           `json:"finished_at"`
	Persisted     int                 `json:"persisted"`
	Retries       int                 `json:"retries"`
	DroppedLabels int                 `json:"dropped_labels"`
	Canceled      bool                `json:"canceled"`
	Failed        []domain.UnitResult `json:"failed"`
	FailedStates  []domain.UnitResult `json:"failed_states"`
}

// Units is the number of units that reached a terminal state.
func (r *Report) Units() int {
	return r.Persisted + len(r.Failed)
}

func (r *Report) add(res domain.UnitResult) {
	if res.Attempts > 1 {
		r.Retries += res.Attempts - 1
	}
	r.DroppedLabels += res.Dropped
	if res.StateLevel() {
		r.FailedStates = append(r.FailedStates, res)
		return
	}
	if res.Failed() {
		r.Failed = append(r.Failed, res)
		return
	}
	r.Persisted++
}

// finish orders failures by unit so reports are stable across runs.
func (r *Report) finish(now time.Time, canceled bool) {
	r.Finished = now
	r.Canceled = canceled
	byUnit := func(a, b domain.UnitResult) int {
		return strings.Compare(a.Unit.String(), b.Unit.String())
	}
	slices.SortFunc(r.Failed, byUnit)
	slices.SortFunc(r.FailedStates, byUnit)
}

// Progress is a point-in-time view of the current or last run.
type Progress struct {
	RunID        string `json:"run_id,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Running      bool   `json:"running"`
	States       int    `json:"states"`
	Persisted    int    `json:"persisted"`
	Failed       int    `json:"failed"`
	FailedStates int    `json:"failed_states"`
}

type progressTracker struct {
	mu sync.Mutex
	p  Progress
}

func (t *progressTracker) start(runID string, kind domain.Kind, states int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p = Progress{RunID: runID, Kind: kind.String(), Running: true, States: states}
}

func (t *progressTracker) record(res domain.UnitResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case res.StateLevel():
		t.p.FailedStates++
	case res.Failed():
		t.p.Failed++
	default:
		t.p.Persisted++
	}
}

func (t *progressTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Running = false
}

func (t *progressTracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}
