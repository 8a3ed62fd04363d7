// Package orphan scans the process registry for subprocesses whose
// owning engine has died or that have outlived their task's timeout,
// and reaps them.
package orphan

import (
	"context"
	"log/slog"
	"time"

	"github.com/nadimtuhin/loopwork/internal/process"
)

// Registry is the subset of *process.Registry the detector needs,
// narrowed so it can be faked in tests.
type Registry interface {
	List() []*process.Record
	UpdateStatus(pid int, status process.Status) error
}

// Detector periodically scans a Registry for orphaned subprocesses.
type Detector struct {
	registry Registry
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	isAlive  func(pid int) bool

	onOrphan func(*process.Record)
}

// NewDetector builds a Detector. interval is how often Scan loops;
// timeout is the task timeout used to judge a record stale even when
// its owning engine process is still alive.
func NewDetector(registry Registry, interval, timeout time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		isAlive:  process.IsRunning,
	}
}

// OnOrphan registers a callback invoked once per orphan found in a
// scan pass, before reconciliation. Optional.
func (d *Detector) OnOrphan(fn func(*process.Record)) {
	d.onOrphan = fn
}

// Run loops Scan every interval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Scan()
		}
	}
}

// Scan performs one detection pass and returns the orphans found.
func (d *Detector) Scan() []*process.Record {
	var orphans []*process.Record
	for _, rec := range d.registry.List() {
		if rec.Status != process.StatusRunning {
			continue
		}
		if d.isOrphan(rec) {
			orphans = append(orphans, rec)
		}
	}

	for _, rec := range orphans {
		d.logger.Warn("orphaned subprocess detected",
			"pid", rec.PID, "task_id", rec.TaskID, "engine_pid", rec.EnginePID)
		if d.onOrphan != nil {
			d.onOrphan(rec)
		}
		if err := d.registry.UpdateStatus(rec.PID, process.StatusOrphaned); err != nil {
			d.logger.Error("failed to mark orphan in registry", "pid", rec.PID, "error", err)
		}
	}
	return orphans
}

// isOrphan classifies rec as orphaned either because its owning engine
// process is no longer alive, or because it has outlived 2x the
// configured task timeout (a wedged process whose parent is alive but
// whose task should have finished long ago).
func (d *Detector) isOrphan(rec *process.Record) bool {
	if rec.EnginePID != 0 && !d.isAlive(rec.EnginePID) {
		return true
	}
	if d.timeout > 0 && time.Since(rec.StartedAt) > 2*d.timeout {
		return true
	}
	return false
}
