package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nadimtuhin/loopwork/internal/agentrunner"
	"github.com/nadimtuhin/loopwork/internal/checkpoint"
	"github.com/nadimtuhin/loopwork/internal/coordinator"
	"github.com/nadimtuhin/loopwork/internal/docker"
	loopworkerrors "github.com/nadimtuhin/loopwork/internal/errors"
	"github.com/nadimtuhin/loopwork/internal/lockfile"
	"github.com/nadimtuhin/loopwork/internal/logging"
	"github.com/nadimtuhin/loopwork/internal/metrics"
	"github.com/nadimtuhin/loopwork/internal/notify"
	"github.com/nadimtuhin/loopwork/internal/notifyobserver"
	"github.com/nadimtuhin/loopwork/internal/orphan"
	"github.com/nadimtuhin/loopwork/internal/process"
	"github.com/nadimtuhin/loopwork/internal/signalbridge"
	"github.com/nadimtuhin/loopwork/internal/taskstore"
)

// run wires config -> store -> runner -> coordinator and drives one
// engine invocation to completion, exiting with the process's
// standard exit codes (0 / 1 / 130) per spec.md §6.
func run(cmd *cobra.Command) error {
	root := viper.GetString("root")
	namespace := viper.GetString("namespace")
	stateDir := filepath.Join(root, viper.GetString("state_dir"))

	logger := logging.New(viper.GetBool("verbose"), viper.GetString("log-file"))

	lock, err := lockfile.Acquire(root)
	if err != nil {
		logger.Error("failed to acquire advisory lock", "error", err)
		os.Exit(loopworkerrors.ExitCode(err))
	}
	defer lock.Release()

	store, err := buildStore(stateDir)
	if err != nil {
		logger.Error("failed to build task store", "error", err)
		os.Exit(loopworkerrors.ExitCode(fmt.Errorf("%w: %v", loopworkerrors.ErrBackendInvalid, err)))
	}

	runner, err := buildRunner()
	if err != nil {
		logger.Error("failed to build agent runner", "error", err)
		os.Exit(loopworkerrors.ExitCode(err))
	}

	m := metrics.NewMetrics()
	startMetricsServer(logger, m)

	registry, err := process.NewRegistry(filepath.Join(stateDir, "registry.json"))
	if err != nil {
		logger.Error("failed to load process registry", "error", err)
		os.Exit(1)
	}

	chkpt := checkpoint.NewStore(stateDir, logger)

	bridge := signalbridge.New(context.Background())
	ctx := bridge.Context()

	resume := viper.GetBool("resume")
	if err := prepareTasks(ctx, store, chkpt, namespace, resume, logger); err != nil {
		logger.Error("failed to prepare tasks for this run", "error", err)
		os.Exit(loopworkerrors.ExitCode(err))
	}

	if err := runner.Preflight(ctx); err != nil {
		logger.Error("preflight check failed", "error", err)
		os.Exit(loopworkerrors.ExitCode(fmt.Errorf("%w: %v", loopworkerrors.ErrPreflightFailed, err)))
	}

	detector := orphan.NewDetector(registry, viper.GetDuration("orphan.scan_interval"), viper.GetDuration("task_timeout"), logger)
	cleaner := orphan.NewCleaner(registry, viper.GetDuration("orphan.kill_grace_period"), logger)
	detector.OnOrphan(func(rec *process.Record) {
		if err := cleaner.Reap([]*process.Record{rec}); err != nil {
			logger.Error("failed to reap orphan", "pid", rec.PID, "error", err)
		}
	})
	go detector.Run(ctx)

	cfg := buildCoordinatorConfig(namespace)

	var observers []coordinator.Observer
	if notifyManager := buildNotifyManager(logger); notifyManager != nil {
		observers = append(observers, notifyobserver.New(ctx, notifyManager))
	}

	engine := coordinator.New(store, runner, registry, chkpt, m, logger, observers, cfg)

	bridge.OnInterrupt(func() {
		logger.Warn("interrupt received, shutting down gracefully")
		engine.Shutdown()
		// Kill in-flight children before resetting their tasks to
		// pending: otherwise a worker still blocked in Run can fall
		// through to handleFailure after AbortInFlight has already
		// reset the same task, racing it back to failed/quarantined.
		if err := runner.Cleanup(context.Background()); err != nil {
			logger.Error("runner cleanup failed during interrupt", "error", err)
		}
		engine.AbortInFlight(context.Background())
	})
	bridge.Start()
	defer bridge.Stop()

	runErr := engine.Run(ctx)

	if ctx.Err() != nil {
		logger.Info("engine stopped due to interrupt")
		os.Exit(loopworkerrors.ExitInterrupted)
	}
	if runErr != nil {
		logger.Error("engine stopped with fatal error", "error", runErr)
		os.Exit(loopworkerrors.ExitCode(runErr))
	}

	logger.Info("engine drained: no more pending tasks")
	return nil
}

// prepareTasks reclaims in-progress tasks left by a previous run:
// either re-pending every task listed in the resumed checkpoint, or
// (the common case) resetting every in-progress task unconditionally.
func prepareTasks(ctx context.Context, store taskstore.Store, chkpt *checkpoint.Store, namespace string, resume bool, logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}) error {
	if !resume {
		return store.ResetAllInProgress(ctx)
	}

	state, err := chkpt.Load(namespace)
	if err != nil {
		return fmt.Errorf("%w: %v", loopworkerrors.ErrStateInvalid, err)
	}
	if state == nil {
		return fmt.Errorf("%w: no checkpoint for namespace %q", loopworkerrors.ErrStateInvalid, namespace)
	}
	for _, id := range state.InterruptedTasks {
		if err := store.ResetToPending(ctx, id); err != nil {
			logger.Warn("failed to reset interrupted task to pending", "task_id", id, "error", err)
		}
	}
	logger.Info("resumed from checkpoint", "namespace", namespace, "interrupted_tasks", len(state.InterruptedTasks))
	return nil
}

func buildStore(stateDir string) (taskstore.Store, error) {
	kind := viper.GetString("store.kind")
	if override := viper.GetString("store"); override != "" {
		kind = override
	}
	dsn := viper.GetString("store.dsn")

	switch kind {
	case "memory":
		return taskstore.NewMemoryStore(nil), nil
	case "sqlite":
		return taskstore.NewSQLiteStore(dsn)
	case "postgres":
		return taskstore.NewPostgresStore(dsn)
	case "jsonfile", "":
		if dsn == "" {
			dsn = filepath.Join(stateDir, "tasks.json")
		}
		return taskstore.NewJSONFileStore(dsn)
	default:
		return nil, fmt.Errorf("%w: unknown store.kind %q", loopworkerrors.ErrBackendInvalid, kind)
	}
}

func buildRunner() (agentrunner.Runner, error) {
	backend := viper.GetString("agent.backend")
	if override := viper.GetString("agent-backend"); override != "" {
		backend = override
	}
	models := viper.GetStringSlice("agent.models")

	switch backend {
	case "docker":
		client, err := docker.NewClient()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", loopworkerrors.ErrPreflightFailed, err)
		}
		return agentrunner.NewDockerRunner(client, viper.GetString("agent.docker_image"), filepath.Join(viper.GetString("root"), "workspace"), []string{viper.GetString("agent.binary")}, models), nil
	case "k8s":
		return agentrunner.NewK8sRunner(viper.GetString("agent.k8s_namespace"), viper.GetString("agent.docker_image"), models), nil
	case "exec", "":
		return agentrunner.NewExecRunner(viper.GetString("agent.binary"), nil, models), nil
	default:
		return nil, fmt.Errorf("%w: unknown agent.backend %q", loopworkerrors.ErrBackendInvalid, backend)
	}
}

func buildCoordinatorConfig(namespace string) coordinator.Config {
	cfg := coordinator.DefaultConfig()
	cfg.Namespace = namespace

	if w := viper.GetInt("workers"); w > 0 {
		cfg.Workers = w
	}
	cfg.TaskDelay = viper.GetDuration("task_delay")
	cfg.TaskTimeout = viper.GetDuration("task_timeout")

	cfg.MaxRetries = viper.GetInt("retry.max_retries")
	cfg.RetryInitialDelay = viper.GetDuration("retry.initial_delay")
	cfg.RetryMultiplier = viper.GetFloat64("retry.multiplier")
	cfg.RetryMaxDelay = viper.GetDuration("retry.max_delay")
	cfg.RetryJitter = viper.GetBool("retry.jitter")
	cfg.QuarantineThreshold = viper.GetInt("quarantine_threshold")
	if max := viper.GetInt("retry.budget_max"); max > 0 {
		cfg.RetryBudgetMax = max
	}
	if window := viper.GetDuration("retry.budget_window"); window > 0 {
		cfg.RetryBudgetWindow = window
	}

	cfg.CircuitBreakerThreshold = viper.GetInt("circuit_breaker.threshold")
	cfg.SelfHealingCooldown = viper.GetDuration("circuit_breaker.self_healing_cooldown")
	cfg.MaxSelfHealingAttempts = viper.GetInt("circuit_breaker.max_self_healing_attempts")

	cfg.CheckpointInterval = viper.GetInt("checkpoint.interval")
	if viper.GetString("parallel_failure_mode") == string(coordinator.AbortAllOnFailure) {
		cfg.ParallelFailureMode = coordinator.AbortAllOnFailure
	}
	return cfg
}

func buildNotifyManager(logger interface {
	Warn(msg string, args ...any)
}) *notify.Manager {
	if !viper.GetBool("notifications.slack.enabled") && !viper.GetBool("notifications.discord.enabled") {
		return nil
	}
	return notify.NewManager(func(format string, args ...interface{}) {
		logger.Warn(fmt.Sprintf(format, args...))
	})
}

func startMetricsServer(logger interface {
	Error(msg string, args ...any)
	Info(msg string, args ...any)
}, m *metrics.Metrics) {
	port := viper.GetInt("metrics_port")
	if port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	addr := fmt.Sprintf(":%d", port)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
}
