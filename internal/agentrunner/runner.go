// Package agentrunner implements the pluggable backends that actually
// spawn the external agent process for a claimed task: a local
// subprocess, a Docker container, or a Kubernetes Job.
package agentrunner

import (
	"context"
	"time"
)

// RunOptions describes one invocation of the agent for a single task.
type RunOptions struct {
	TaskID     string
	Prompt     string
	WorkDir    string
	Model      string
	Env        map[string]string
	Timeout    time.Duration
	OutputPath string
	ClearCache bool

	// OnStart, when non-nil, is called once the backend has an OS-level
	// PID for this invocation (e.g. right after the subprocess starts),
	// so the caller can register it as running before Run blocks until
	// completion. Backends with no OS PID (e.g. Kubernetes Jobs) need
	// not call it.
	OnStart func(pid int)
}

// Result is what a backend reports back about one invocation.
type Result struct {
	ExitCode int
	Output   string
	PID      int // 0 when the backend has no OS-level pid (e.g. Kubernetes Job)
}

// Runner is the contract the coordinator drives to execute a task.
// Implementations must make Run's context cancellation kill the
// underlying process/container/job promptly: the engine relies on
// this for both per-invocation timeouts and interrupt-triggered
// shutdown.
type Runner interface {
	// Preflight validates the backend can actually run agents (binary
	// present, daemon reachable, cluster reachable). Called once before
	// the first task is claimed; a failure here is fatal.
	Preflight(ctx context.Context) error

	// Run executes one agent invocation and blocks until it exits or
	// ctx is cancelled.
	Run(ctx context.Context, opts RunOptions) (Result, error)

	// GetNextModel resolves which model/CLI identity the next
	// invocation should use, allowing a backend to round-robin or
	// fall back across configured choices.
	GetNextModel() string

	// Cancel terminates the in-flight invocation for a single task,
	// identified by TaskID, without disturbing any other task's
	// invocation. Safe to call concurrently with Run. A task that
	// isn't currently running is a no-op, not an error.
	Cancel(taskID string) error

	// Cleanup terminates any in-flight children the backend owns. Used
	// by the interrupt handler.
	Cleanup(ctx context.Context) error
}
