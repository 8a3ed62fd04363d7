// Package coordinator implements the engine's worker pool: the
// claim-execute-report cycle, retry/backoff, circuit-breaker-driven
// self-healing, and checkpointing that together make up the hard core
// of the automation loop.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nadimtuhin/loopwork/internal/agentrunner"
	"github.com/nadimtuhin/loopwork/internal/checkpoint"
	"github.com/nadimtuhin/loopwork/internal/circuit"
	loopworkerrors "github.com/nadimtuhin/loopwork/internal/errors"
	"github.com/nadimtuhin/loopwork/internal/metrics"
	"github.com/nadimtuhin/loopwork/internal/process"
	"github.com/nadimtuhin/loopwork/internal/retry"
	"github.com/nadimtuhin/loopwork/internal/taskstore"
)

const globalFailureKey = "__global__"

// TaskContext is the immutable view of one worker iteration, composed
// once per claimed task and never mutated afterward.
type TaskContext struct {
	Task         *taskstore.Task
	Worker       int
	Round        int
	StartedAt    time.Time
	Namespace    string
	RetryAttempt int
	Model        string
	ClearCache   bool
}

// Coordinator drives the worker pool against a Store, executing
// claimed tasks through a Runner.
type Coordinator struct {
	store    taskstore.Store
	runner   agentrunner.Runner
	registry *process.Registry
	chkpt    *checkpoint.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	observer Observer

	budget         *retry.Budget
	perTaskHistory *retry.Tracker
	globalHistory  *retry.Tracker
	breaker        *circuit.Breaker
	healer         *circuit.Healer

	cfgMu sync.RWMutex
	cfg   Config

	shuttingDown atomic.Bool
	abortAll     atomic.Bool

	inFlightMu sync.Mutex
	inFlight   map[string]bool // task IDs currently claimed, for checkpointing

	retryMu       sync.Mutex
	retryAttempts map[string]int // per-task retry counter, independent of the global budget
}

// New builds a Coordinator. registry and chkpt may be nil to disable
// process tracking / checkpointing (useful in tests).
func New(store taskstore.Store, runner agentrunner.Runner, registry *process.Registry, chkpt *checkpoint.Store, m *metrics.Metrics, logger *slog.Logger, observers []Observer, cfg Config) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:          store,
		runner:         runner,
		registry:       registry,
		chkpt:          chkpt,
		metrics:        m,
		logger:         logger,
		observer:       multiObserver{observers: observers, logger: logger},
		budget:         retry.NewBudget(cfg.RetryBudgetMax, cfg.RetryBudgetWindow),
		perTaskHistory: retry.NewTracker(cfg.QuarantineThreshold),
		globalHistory:  retry.NewTracker(1 << 30), // unbounded-by-count; only the last-10 ring matters
		breaker:        circuit.NewBreaker(cfg.CircuitBreakerThreshold),
		healer:         circuit.NewHealer(cfg.SelfHealingCooldown, cfg.MaxSelfHealingAttempts),
		cfg:            cfg,
		inFlight:       map[string]bool{},
		retryAttempts:  map[string]int{},
	}
}

func (c *Coordinator) config() Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *Coordinator) setConfig(cfg Config) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.cfg = cfg
}

// Shutdown marks the coordinator as shutting down: no further rounds
// will begin, though any in-flight iteration is allowed to finish its
// current step. Called by the interrupt handler.
func (c *Coordinator) Shutdown() {
	c.shuttingDown.Store(true)
}

// Run drives rounds until the store is drained, an abort-all failure
// occurs, or ctx is cancelled. It returns a fatal error only for
// conditions the engine cannot recover from (ERR_CLI_NOT_FOUND,
// ERR_BACKEND_INVALID when a claim fails, ERR_TASK_INVALID after
// self-healing exhaustion).
func (c *Coordinator) Run(ctx context.Context) error {
	round := 0
	for {
		if ctx.Err() != nil || c.shuttingDown.Load() || c.abortAll.Load() {
			break
		}
		round++

		claimedAny, fatalErr := c.runRound(ctx, round)
		if fatalErr != nil {
			return fatalErr
		}
		if !claimedAny {
			break // drain complete
		}

		if c.breaker.Count() >= c.config().CircuitBreakerThreshold {
			if err := c.selfHeal(); err != nil {
				return err
			}
		}

		cfg := c.config()
		if cfg.CheckpointInterval > 0 && round%cfg.CheckpointInterval == 0 {
			c.writeCheckpoint()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.TaskDelay):
		}
	}

	c.writeCheckpoint()
	return nil
}

// runRound offers every worker slot one claim-execute-report
// iteration, concurrently, and waits for all of them.
func (c *Coordinator) runRound(ctx context.Context, round int) (claimedAny bool, fatalErr error) {
	cfg := c.config()
	var wg sync.WaitGroup
	var claimedCount int32
	var firstFatal atomic.Value // error

	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			claimed, err := c.runWorkerIteration(ctx, worker, round)
			if claimed {
				atomic.AddInt32(&claimedCount, 1)
			}
			if err != nil {
				firstFatal.CompareAndSwap(nil, err)
			}
		}(w)
	}
	wg.Wait()

	if v := firstFatal.Load(); v != nil {
		fatalErr = v.(error)
	}
	return claimedCount > 0, fatalErr
}

// runWorkerIteration implements the per-worker contract from the
// coordinator's claim-execute-report cycle.
func (c *Coordinator) runWorkerIteration(ctx context.Context, worker, round int) (claimed bool, fatalErr error) {
	cfg := c.config()

	task, err := c.store.Claim(ctx, cfg.Filter)
	if err != nil {
		c.logger.Error("claim failed", "worker", worker, "error", err)
		return false, fmt.Errorf("%w: %v", loopworkerrors.ErrBackendInvalid, err)
	}
	if task == nil {
		return false, nil
	}

	c.markInFlight(task.ID, true)
	defer c.markInFlight(task.ID, false)

	tctx := TaskContext{
		Task:       task,
		Worker:     worker,
		Round:      round,
		StartedAt:  time.Now(),
		Namespace:  cfg.Namespace,
		Model:      c.runner.GetNextModel(),
		ClearCache: cfg.ClearCache,
	}

	c.observer.OnTaskStart(task.ID, worker, round)

	onStart := func(pid int) {
		if c.registry == nil {
			return
		}
		_ = c.registry.Add(&process.Record{
			PID: pid, TaskID: task.ID, Namespace: cfg.Namespace,
			Status: process.StatusRunning, StartedAt: tctx.StartedAt, EnginePID: os.Getpid(),
		})
	}

	result, runErr := c.runner.Run(ctx, agentrunner.RunOptions{
		TaskID:     task.ID,
		Prompt:     task.Description,
		Model:      tctx.Model,
		Timeout:    cfg.TaskTimeout,
		ClearCache: tctx.ClearCache,
		OnStart:    onStart,
	})
	if result.PID != 0 && c.registry != nil {
		_ = c.registry.UpdateStatus(result.PID, process.StatusExited)
	}
	if runErr != nil && errors.Is(runErr, loopworkerrors.ErrCLINotFound) {
		_ = c.store.ResetToPending(ctx, task.ID)
		return true, runErr
	}

	if result.ExitCode == 0 {
		_ = c.store.MarkCompleted(ctx, task.ID, "")
		c.perTaskHistory.Clear(task.ID)
		c.clearRetryAttempt(task.ID)
		c.breaker.RecordSuccess()
		c.observer.OnTaskComplete(task.ID, worker, round)
		if c.metrics != nil {
			c.metrics.TasksCompleted.Inc()
		}
		return true, nil
	}

	return true, c.handleFailure(ctx, task, result, worker, round)
}

// handleFailure implements step 8 of the per-worker iteration
// contract: classify, then either schedule a retry or record a
// terminal failure (possibly quarantining the task).
func (c *Coordinator) handleFailure(ctx context.Context, task *taskstore.Task, result agentrunner.Result, worker, round int) error {
	cfg := c.config()
	cause := fmt.Errorf("agent exited with code %d: %s", result.ExitCode, trimOutput(result.Output))

	switch circuit.Classify(cause.Error()) {
	case circuit.CategoryRateLimit:
		c.logger.Warn("Rate limit detected", "task_id", task.ID, "worker", worker)
	case circuit.CategoryTimeout:
		c.logger.Warn("Timeout detected", "task_id", task.ID, "worker", worker)
	case circuit.CategoryMemory:
		c.logger.Warn("Memory pressure detected", "task_id", task.ID, "worker", worker)
	case circuit.CategoryCLICache:
		c.logger.Warn("CLI cache corruption detected", "task_id", task.ID, "worker", worker)
	}

	c.globalHistory.Record(globalFailureKey, cause)
	c.breaker.RecordFailure()

	// A failure that would push failureCount to the quarantine
	// threshold is terminal regardless of remaining retry budget:
	// quarantineThreshold is a hard cap on total attempts for a task.
	willQuarantine := task.FailureCount+1 >= cfg.QuarantineThreshold

	// attempt is this task's own retry counter, independent of the
	// global budget: a task may still have per-task retries left while
	// the engine-wide budget is exhausted, and vice versa.
	attempt := c.retryAttempt(task.ID)
	if !willQuarantine && attempt < cfg.MaxRetries && c.budget.HasBudget() {
		c.budget.Consume()
		c.setRetryAttempt(task.ID, attempt+1)
		backoff := computeBackoff(cfg, attempt)
		_ = c.store.ResetToPending(ctx, task.ID)
		if c.metrics != nil {
			c.metrics.TasksRetried.Inc()
		}
		c.observer.OnTaskRetry(task.ID, worker, round, attempt+1)

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		return nil
	}

	c.clearRetryAttempt(task.ID)
	return c.recordTerminalFailure(ctx, task, cause, worker, round)
}

// retryAttempt returns taskID's own retry counter, scoped to this
// coordinator instance (not persisted: a restart resets it, matching
// the budget's own in-session scope).
func (c *Coordinator) retryAttempt(taskID string) int {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	return c.retryAttempts[taskID]
}

func (c *Coordinator) setRetryAttempt(taskID string, n int) {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	c.retryAttempts[taskID] = n
}

func (c *Coordinator) clearRetryAttempt(taskID string) {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	delete(c.retryAttempts, taskID)
}

func (c *Coordinator) recordTerminalFailure(ctx context.Context, task *taskstore.Task, cause error, worker, round int) error {
	shouldQuarantine := c.perTaskHistory.Record(task.ID, cause)
	newCount := task.FailureCount + 1
	cfg := c.config()

	if shouldQuarantine || newCount >= cfg.QuarantineThreshold {
		_ = c.store.MarkQuarantined(ctx, task.ID, cause.Error())
		c.observer.OnTaskFailed(task.ID, worker, round, taskstore.StatusQuarantined, cause)
		if c.metrics != nil {
			c.metrics.TasksQuarantined.Inc()
		}
	} else {
		_ = c.store.MarkFailed(ctx, task.ID, cause)
		c.observer.OnTaskFailed(task.ID, worker, round, taskstore.StatusFailed, cause)
		if c.metrics != nil {
			c.metrics.TasksFailed.Inc()
		}
	}

	if cfg.ParallelFailureMode == AbortAllOnFailure {
		c.abortAll.Store(true)
		c.observer.OnTaskAbort(task.ID, worker, round)
		c.cancelOtherInFlight(task.ID)
	}
	return nil
}

// cancelOtherInFlight asks the runner to terminate every in-flight
// invocation other than exceptTaskID, used when AbortAllOnFailure
// trips so sibling workers stop burning time on a run already doomed
// to abort.
func (c *Coordinator) cancelOtherInFlight(exceptTaskID string) {
	c.inFlightMu.Lock()
	ids := make([]string, 0, len(c.inFlight))
	for id := range c.inFlight {
		if id != exceptTaskID {
			ids = append(ids, id)
		}
	}
	c.inFlightMu.Unlock()

	for _, id := range ids {
		if err := c.runner.Cancel(id); err != nil {
			c.logger.Warn("failed to cancel in-flight task after abort-all", "task_id", id, "error", err)
		}
	}
}

// selfHeal hands control to the SelfHealer once the breaker trips,
// applying its adjustment to the live Config.
func (c *Coordinator) selfHeal() error {
	cfg := c.config()
	events := eventMessages(c.globalHistory.History(globalFailureKey))

	tuning, err := c.healer.Heal(events, circuit.Tuning{
		Workers:    cfg.Workers,
		TaskDelay:  cfg.TaskDelay,
		Timeout:    cfg.TaskTimeout,
		ClearCache: cfg.ClearCache,
	})
	if err != nil {
		return err
	}

	cfg.Workers = tuning.Workers
	cfg.TaskDelay = tuning.TaskDelay
	cfg.TaskTimeout = tuning.Timeout
	cfg.ClearCache = tuning.ClearCache
	c.setConfig(cfg)

	c.breaker.Reset()
	c.globalHistory.Clear(globalFailureKey)
	if c.metrics != nil {
		c.metrics.CircuitBreakerTrips.WithLabelValues("breaker").Inc()
		c.metrics.SelfHealingAttempts.WithLabelValues("adjustment").Inc()
	}
	c.logger.Warn("self-healing adjustment applied", "workers", cfg.Workers, "task_delay", cfg.TaskDelay, "task_timeout", cfg.TaskTimeout, "attempts", c.healer.Attempts())
	return nil
}

func computeBackoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.RetryInitialDelay) * pow(cfg.RetryMultiplier, attempt)
	if max := float64(cfg.RetryMaxDelay); delay > max {
		delay = max
	}
	if cfg.RetryJitter {
		jitter := (rand.Float64()*2 - 1) * 0.10 * delay
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func eventMessages(events []retry.FailureEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Cause
	}
	return out
}

func trimOutput(s string) string {
	const limit = 500
	if len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

func (c *Coordinator) markInFlight(taskID string, inFlight bool) {
	c.inFlightMu.Lock()
	defer c.inFlightMu.Unlock()
	if inFlight {
		c.inFlight[taskID] = true
	} else {
		delete(c.inFlight, taskID)
	}
}

func (c *Coordinator) writeCheckpoint() {
	if c.chkpt == nil {
		return
	}
	c.inFlightMu.Lock()
	tasks := make([]string, 0, len(c.inFlight))
	for id := range c.inFlight {
		tasks = append(tasks, id)
	}
	c.inFlightMu.Unlock()
	c.chkpt.Save(c.config().Namespace, tasks)
}

// AbortInFlight implements the interrupt protocol's step 4: for every
// currently-claimed task, write a checkpoint and reset it to pending.
func (c *Coordinator) AbortInFlight(ctx context.Context) {
	c.writeCheckpoint()

	c.inFlightMu.Lock()
	ids := make([]string, 0, len(c.inFlight))
	for id := range c.inFlight {
		ids = append(ids, id)
	}
	c.inFlightMu.Unlock()

	for _, id := range ids {
		c.observer.OnTaskAbort(id, -1, -1)
		_ = c.store.ResetToPending(ctx, id)
	}
}
