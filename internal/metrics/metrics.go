package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics represents the collection of all Prometheus metrics exposed
// by the engine.
type Metrics struct {
	registry *prometheus.Registry

	// System metrics
	MemoryUsage     prometheus.Gauge
	CPUUsage        prometheus.Gauge
	GoroutinesCount prometheus.Gauge

	// Task lifecycle
	TasksCompleted   prometheus.Counter
	TasksFailed      prometheus.Counter
	TasksQuarantined prometheus.Counter
	TasksRetried     prometheus.Counter
	TasksInProgress  prometheus.Gauge
	TasksPending     prometheus.Gauge

	// Worker pool
	ActiveWorkers prometheus.Gauge
	QueueDepth    prometheus.Gauge

	// Circuit breaker / self-healer
	CircuitBreakerTrips *prometheus.CounterVec
	SelfHealingAttempts *prometheus.CounterVec

	// Orphan detection
	OrphansDetected prometheus.Counter
	ProcessesReaped prometheus.Counter
}

// NewMetrics creates and registers all metrics against a registry
// private to this instance, so multiple Metrics (one per test, or a
// future multi-engine process) never collide on Prometheus's global
// default registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "process_memory_bytes",
		Help: "Current memory usage in bytes",
	})
	m.CPUUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "process_cpu_seconds_total",
		Help: "Total CPU usage in seconds",
	})
	m.GoroutinesCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "go_goroutines",
		Help: "Number of active goroutines",
	})

	m.TasksCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopwork_tasks_completed_total",
		Help: "Total number of tasks that completed successfully",
	})
	m.TasksFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopwork_tasks_failed_total",
		Help: "Total number of tasks that reached a terminal failed state",
	})
	m.TasksQuarantined = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopwork_tasks_quarantined_total",
		Help: "Total number of tasks moved to the dead-letter quarantine state",
	})
	m.TasksRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopwork_tasks_retried_total",
		Help: "Total number of retry attempts consumed from the retry budget",
	})
	m.TasksInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopwork_tasks_in_progress",
		Help: "Number of tasks currently claimed by a worker",
	})
	m.TasksPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopwork_tasks_pending",
		Help: "Number of tasks waiting to be claimed",
	})

	m.ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopwork_active_workers",
		Help: "Number of worker slots currently executing a task",
	})
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopwork_queue_depth",
		Help: "Number of pending tasks matching the coordinator's claim filter",
	})

	m.CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopwork_circuit_breaker_trips_total",
		Help: "Total number of times the circuit breaker tripped, by self-healing category",
	}, []string{"category"})
	m.SelfHealingAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopwork_self_healing_attempts_total",
		Help: "Total number of self-healing adjustments applied, by category",
	}, []string{"category"})

	m.OrphansDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopwork_orphans_detected_total",
		Help: "Total number of orphaned subprocesses detected",
	})
	m.ProcessesReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopwork_processes_reaped_total",
		Help: "Total number of subprocesses terminated by the orphan cleaner",
	})

	m.registry.MustRegister(
		m.MemoryUsage,
		m.CPUUsage,
		m.GoroutinesCount,
		m.TasksCompleted,
		m.TasksFailed,
		m.TasksQuarantined,
		m.TasksRetried,
		m.TasksInProgress,
		m.TasksPending,
		m.ActiveWorkers,
		m.QueueDepth,
		m.CircuitBreakerTrips,
		m.SelfHealingAttempts,
		m.OrphansDetected,
		m.ProcessesReaped,
	)

	return m
}

// UpdateSystemMetrics updates system-level metrics. Nothing in this
// module calls it on a schedule; the gauges stay at zero until a caller
// does.
func (m *Metrics) UpdateSystemMetrics(memoryBytes uint64, cpuSeconds float64, goroutines int) {
	m.MemoryUsage.Set(float64(memoryBytes))
	m.CPUUsage.Add(cpuSeconds)
	m.GoroutinesCount.Set(float64(goroutines))
}

// Handler returns the Prometheus scrape HTTP handler for this
// instance's private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
