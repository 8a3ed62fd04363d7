// Package errors defines the engine's typed error taxonomy.
//
// Every sentinel below corresponds to one of the ERR_* names in the
// store-facing log; callers classify with errors.Is and wrap the
// underlying cause with fmt.Errorf("...: %w", cause) so the original
// error is never discarded.
package errors

import "errors"

var (
	// ErrPreflightFailed is returned when AgentRunner.Preflight refuses
	// to start the loop. Fatal before any task runs.
	ErrPreflightFailed = errors.New("ERR_PREFLIGHT_FAILED")

	// ErrLockConflict is returned when another engine instance already
	// holds the advisory lock. Fatal.
	ErrLockConflict = errors.New("ERR_LOCK_CONFLICT")

	// ErrStateInvalid is returned when resume is requested but no
	// checkpoint exists for the namespace. Fatal.
	ErrStateInvalid = errors.New("ERR_STATE_INVALID")

	// ErrCLINotFound is returned when the agent binary cannot be
	// located. Fatal after first occurrence; the current task is reset
	// to pending before the engine exits.
	ErrCLINotFound = errors.New("ERR_CLI_NOT_FOUND")

	// ErrBackendInvalid wraps an unexpected TaskStore failure. Claim and
	// CountPending failures are fatal; per-transition failures
	// (MarkCompleted, MarkFailed, ResetToPending, MarkQuarantined) are
	// logged and non-fatal.
	ErrBackendInvalid = errors.New("ERR_BACKEND_INVALID")

	// ErrPluginLoad is surfaced only when a dynamically configured
	// observer fails to load. Never fatal to the core loop.
	ErrPluginLoad = errors.New("ERR_PLUGIN_LOAD")

	// ErrTaskInvalid is emitted by the circuit breaker once
	// self-healing is exhausted. Fatal.
	ErrTaskInvalid = errors.New("ERR_TASK_INVALID")

	// ErrProcessKill is raised by the ProcessCleaner on permission
	// denied or another unexpected termination error. Recorded and
	// swept; never fatal.
	ErrProcessKill = errors.New("ERR_PROCESS_KILL")
)

// ExitCode maps a fatal engine error to the process exit code the CLI
// should use. Interrupt-triggered shutdowns use ExitInterrupted
// directly; they are not routed through this table.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, ErrPreflightFailed),
		errors.Is(err, ErrLockConflict),
		errors.Is(err, ErrStateInvalid),
		errors.Is(err, ErrCLINotFound),
		errors.Is(err, ErrBackendInvalid),
		errors.Is(err, ErrTaskInvalid):
		return 1
	default:
		return 1
	}
}

// ExitInterrupted is the exit code used after an interrupt-triggered
// shutdown, per the engine's external interface contract.
const ExitInterrupted = 130
