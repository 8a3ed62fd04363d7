package orphan

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	loopworkerrors "github.com/nadimtuhin/loopwork/internal/errors"
	"github.com/nadimtuhin/loopwork/internal/process"
)

// Cleaner terminates orphaned subprocesses: SIGTERM, a grace period,
// then SIGKILL if it's still alive.
type Cleaner struct {
	registry *process.Registry
	grace    time.Duration
	logger   *slog.Logger
}

// NewCleaner builds a Cleaner. grace is how long to wait after SIGTERM
// before escalating to SIGKILL.
func NewCleaner(registry *process.Registry, grace time.Duration, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{registry: registry, grace: grace, logger: logger}
}

// Reap terminates every record's subprocess and removes it from the
// registry on success. It collects and returns the first kill error
// encountered (wrapped in ErrProcessKill) but keeps attempting the
// remaining records.
func (c *Cleaner) Reap(records []*process.Record) error {
	var firstErr error
	for _, rec := range records {
		if err := c.reapOne(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Cleaner) reapOne(rec *process.Record) error {
	proc, err := os.FindProcess(rec.PID)
	if err != nil {
		return c.finish(rec)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if !process.IsRunning(rec.PID) {
			return c.finish(rec)
		}
		c.logger.Error("sigterm failed", "pid", rec.PID, "error", err)
		return fmt.Errorf("%w: sigterm pid %d: %v", loopworkerrors.ErrProcessKill, rec.PID, err)
	}

	deadline := time.Now().Add(c.grace)
	for time.Now().Before(deadline) {
		if !process.IsRunning(rec.PID) {
			return c.finish(rec)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := proc.Signal(syscall.SIGKILL); err != nil && process.IsRunning(rec.PID) {
		c.logger.Error("sigkill failed", "pid", rec.PID, "error", err)
		return fmt.Errorf("%w: sigkill pid %d: %v", loopworkerrors.ErrProcessKill, rec.PID, err)
	}
	c.logger.Warn("escalated to sigkill", "pid", rec.PID, "task_id", rec.TaskID)
	return c.finish(rec)
}

func (c *Cleaner) finish(rec *process.Record) error {
	if err := c.registry.UpdateStatus(rec.PID, process.StatusReaped); err != nil {
		c.logger.Error("failed to mark reaped", "pid", rec.PID, "error", err)
	}
	return c.registry.Remove(rec.PID)
}
