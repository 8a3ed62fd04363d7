package coordinator

import (
	"time"

	"github.com/nadimtuhin/loopwork/internal/taskstore"
)

// ParallelFailureMode controls whether a single terminal failure
// should stop the whole run.
type ParallelFailureMode string

const (
	ContinueOnFailure ParallelFailureMode = "continue"
	AbortAllOnFailure ParallelFailureMode = "abort-all"
)

// Config is the coordinator's live tuning. The SelfHealer adjusts
// Workers, TaskDelay, TaskTimeout and ClearCache at runtime; the other
// fields stay as given.
type Config struct {
	Workers     int
	TaskDelay   time.Duration
	TaskTimeout time.Duration

	MaxRetries          int
	RetryInitialDelay   time.Duration
	RetryMultiplier     float64
	RetryMaxDelay       time.Duration
	RetryJitter         bool
	QuarantineThreshold int

	// RetryBudgetMax/RetryBudgetWindow bound the engine-wide sliding
	// window of retries, shared by every worker and every task (spec.md
	// §4.6) — distinct from MaxRetries, which is a per-task cap.
	RetryBudgetMax    int
	RetryBudgetWindow time.Duration

	CircuitBreakerThreshold int
	SelfHealingCooldown     time.Duration
	MaxSelfHealingAttempts  int
	ClearCache              bool

	CheckpointInterval  int // rounds between periodic checkpoints; 0 disables
	ParallelFailureMode ParallelFailureMode
	Namespace           string
	Filter              taskstore.Filter
}

// DefaultConfig mirrors the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		Workers:                 4,
		TaskDelay:               time.Second,
		TaskTimeout:             300 * time.Second,
		MaxRetries:              3,
		RetryInitialDelay:       time.Second,
		RetryMultiplier:         2.0,
		RetryMaxDelay:           60 * time.Second,
		RetryJitter:             true,
		QuarantineThreshold:     3,
		RetryBudgetMax:          10,
		RetryBudgetWindow:       10 * time.Minute,
		CircuitBreakerThreshold: 5,
		SelfHealingCooldown:     30 * time.Second,
		MaxSelfHealingAttempts:  3,
		CheckpointInterval:      10,
		ParallelFailureMode:     ContinueOnFailure,
		Namespace:               "default",
	}
}
