// Package retry implements the engine's global retry budget and
// cross-task failure tracking that feeds the dead-letter quarantine
// decision.
package retry

import (
	"sync"
	"time"
)

// Budget is a single sliding-window ring of retry timestamps shared by
// every worker and every task: at most Max retries may be consumed,
// engine-wide, within Window. This caps the total resources a runaway
// loop can burn even when every task independently exhausts its own
// per-task retry count.
type Budget struct {
	Max    int
	Window time.Duration

	mu       sync.Mutex
	attempts []time.Time
	now      func() time.Time
}

// NewBudget builds a Budget allowing max retries within window,
// globally across all tasks.
func NewBudget(max int, window time.Duration) *Budget {
	return &Budget{
		Max:    max,
		Window: window,
		now:    time.Now,
	}
}

// HasBudget reports whether the engine may still consume a retry.
func (b *Budget) HasBudget() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prune()) < b.Max
}

// Consume records a retry attempt. Call only after HasBudget returned
// true for the same attempt.
func (b *Budget) Consume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.prune()
	b.attempts = append(kept, b.now())
}

// Usage returns how many attempts fall within the current window.
func (b *Budget) Usage() (used, max int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prune()), b.Max
}

// Reset clears every recorded attempt.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = nil
}

// prune drops attempts older than Window and returns (and stores) the
// surviving slice. Caller must hold b.mu.
func (b *Budget) prune() []time.Time {
	cutoff := b.now().Add(-b.Window)
	kept := b.attempts[:0:0]
	for _, t := range b.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.attempts = kept
	return kept
}
