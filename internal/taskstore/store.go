// Package taskstore defines the contract the coordinator drives and a
// handful of concrete backends that satisfy it.
package taskstore

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in-progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusQuarantined Status = "quarantined"
)

// Priority is a task's priority label. A Filter can restrict claims to
// one priority; no backend orders claims by it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Task is the engine's short-lived view of a store-owned record.
type Task struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Status       Status         `json:"status"`
	Priority     Priority       `json:"priority"`
	Feature      string         `json:"feature,omitempty"`
	DependsOn    []string       `json:"dependsOn,omitempty"`
	FailureCount int            `json:"failureCount,omitempty"`
	LastError    string         `json:"lastError,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Filter narrows which pending tasks a Claim call may return.
type Filter struct {
	Feature  string
	Priority Priority
}

// ErrNoTask is a sentinel for "no pending task". No backend in this
// package returns it; callers should treat a nil, nil return from
// Claim as "nothing pending".
var ErrNoTask = errors.New("taskstore: no pending task available")

// Store is the contract the coordinator consumes. Implementations must
// guarantee Claim is atomic: under concurrent callers, no two callers
// ever receive a Task with the same ID while both consider it claimed.
type Store interface {
	// Claim atomically finds one pending task matching filter, marks it
	// in-progress, and returns it. Returns (nil, nil) when none match.
	Claim(ctx context.Context, filter Filter) (*Task, error)

	// CountPending counts pending tasks matching filter.
	CountPending(ctx context.Context, filter Filter) (int, error)

	// MarkCompleted transitions a task to completed. Failure is
	// reported but never fatal to the caller's loop.
	MarkCompleted(ctx context.Context, id, note string) error

	// MarkFailed transitions a task to failed, recording cause.
	MarkFailed(ctx context.Context, id string, cause error) error

	// ResetToPending returns an in-progress task to pending (used for
	// retries and for interrupt/startup recovery).
	ResetToPending(ctx context.Context, id string) error

	// MarkQuarantined transitions a task to the terminal quarantined
	// (dead-letter) state.
	MarkQuarantined(ctx context.Context, id, reason string) error

	// ResetAllInProgress reclaims every in-progress task back to
	// pending. Invoked once at startup unless resuming from a
	// checkpoint.
	ResetAllInProgress(ctx context.Context) error
}

func isTerminal(s Status) bool {
	return s != StatusPending && s != StatusInProgress
}

// matches reports whether task t satisfies filter f.
func matches(t *Task, f Filter) bool {
	if f.Feature != "" && t.Feature != f.Feature {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	return true
}

// dependenciesSatisfied reports whether every dependency of t is in a
// terminal "done" state (completed) within the given lookup.
func dependenciesSatisfied(t *Task, byID map[string]*Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := byID[dep]
		if !ok {
			return false
		}
		if d.Status != StatusCompleted {
			return false
		}
	}
	return true
}
