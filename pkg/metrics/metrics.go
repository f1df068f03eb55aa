package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the profiler.
// Using promauto for automatic registration with default registry.
var (
	// --- Command Metrics ---

	// CommandsTotal counts subprocess executions by outcome.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profiler",
			Subsystem: "commands",
			Name:      "total",
			Help:      "Total number of subprocess executions by status",
		},
		[]string{"status"},
	)

	// CommandDuration tracks subprocess wall time.
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "profiler",
			Subsystem: "commands",
			Name:      "duration_seconds",
			Help:      "Wall time of subprocess executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5m
		},
		[]string{"status"},
	)

	// CommandsRunning tracks subprocesses currently alive.
	CommandsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "profiler",
			Subsystem: "commands",
			Name:      "running",
			Help:      "Number of subprocesses currently running",
		},
	)

	// --- Sampling Metrics ---

	// SamplesTotal counts resource samples taken from child processes.
	SamplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "profiler",
			Subsystem: "sampler",
			Name:      "samples_total",
			Help:      "Total number of resource samples taken",
		},
	)

	// PeakRSS records the peak resident set size of profiled commands.
	PeakRSS = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "profiler",
			Subsystem: "sampler",
			Name:      "peak_rss_bytes",
			Help:      "Peak resident set size of sampled commands",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 14), // 1MiB to 8GiB
		},
	)

	// --- Exporter Metrics ---

	// ExportsTotal counts profile exports by exporter and outcome.
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profiler",
			Subsystem: "exporter",
			Name:      "exports_total",
			Help:      "Total number of profile exports by exporter and status",
		},
		[]string{"exporter", "status"},
	)

	// ExporterCircuitState exposes circuit breaker state per exporter
	// (0 closed, 1 open, 2 half-open).
	ExporterCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "profiler",
			Subsystem: "exporter",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per exporter",
		},
		[]string{"exporter"},
	)

	// --- Scheduler Metrics ---

	// ScheduledRuns counts scheduled profiling runs.
	ScheduledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profiler",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total number of scheduled profiling runs",
		},
		[]string{"schedule", "status"},
	)

	// SchedulerLag measures delay between scheduled time and actual start.
	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "profiler",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled time and actual start",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// --- Agent Metrics ---

	// HeartbeatsSent counts heartbeats sent by the agent.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "profiler",
			Subsystem: "agent",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)

	// --- Error Metrics ---

	// ErrorsTotal counts profiling errors by kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profiler",
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total number of profiling errors by kind",
		},
		[]string{"kind"},
	)
)

// RecordCommand records metrics for a finished subprocess.
func RecordCommand(status string, durationSeconds float64) {
	CommandsTotal.WithLabelValues(status).Inc()
	CommandDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordSamples records resource samples taken for one command.
func RecordSamples(samples int, peakRSS uint64) {
	if samples == 0 {
		return
	}
	SamplesTotal.Add(float64(samples))
	PeakRSS.Observe(float64(peakRSS))
}

// RecordExport records one export attempt.
func RecordExport(exporter, status string) {
	ExportsTotal.WithLabelValues(exporter, status).Inc()
}

// RecordError counts an error of the given kind.
func RecordError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}
