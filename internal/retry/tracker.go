package retry

import (
	"sync"
	"time"
)

// FailureEvent is one recorded failure for a task.
type FailureEvent struct {
	At    time.Time
	Cause string
}

const failureHistoryLimit = 10

// Tracker keeps a bounded failure history per task and decides when a
// task has failed often enough to be quarantined.
type Tracker struct {
	// QuarantineThreshold is the number of recorded failures for a
	// single task that triggers quarantine.
	QuarantineThreshold int

	mu      sync.Mutex
	history map[string][]FailureEvent
	now     func() time.Time
}

// NewTracker builds a Tracker that quarantines a task once it has
// failed threshold times.
func NewTracker(threshold int) *Tracker {
	return &Tracker{
		QuarantineThreshold: threshold,
		history:             map[string][]FailureEvent{},
		now:                 time.Now,
	}
}

// Record appends a failure event for taskID and reports whether the
// task has now crossed the quarantine threshold.
func (t *Tracker) Record(taskID string, cause error) (shouldQuarantine bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	events := append(t.history[taskID], FailureEvent{At: t.now(), Cause: msg})
	if len(events) > failureHistoryLimit {
		events = events[len(events)-failureHistoryLimit:]
	}
	t.history[taskID] = events

	return len(events) >= t.QuarantineThreshold
}

// History returns the recorded failures for taskID, oldest first.
func (t *Tracker) History(taskID string) []FailureEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FailureEvent, len(t.history[taskID]))
	copy(out, t.history[taskID])
	return out
}

// Clear drops history for taskID. The coordinator uses it once a task
// succeeds, and to empty its global failure history after a
// self-healing adjustment.
func (t *Tracker) Clear(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.history, taskID)
}
