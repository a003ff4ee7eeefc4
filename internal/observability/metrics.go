// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Sandbox run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec

	// Simulation event metrics
	MarginCalls         prometheus.Counter
	Liquidations        prometheus.Counter
	Rebalances          prometheus.Counter
	ConvergenceWarnings prometheus.Counter

	// Ingestion metrics
	FramesReceived    prometheus.Counter
	SnapshotsStored   prometheus.Counter
	FeedReconnects    prometheus.Counter
	NormalizeErrors   *prometheus.CounterVec
	DuplicateSnapshot prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun       prometheus.Gauge
	LastSuccessfulIngestion prometheus.Gauge
	UptimeSeconds           prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lending_lab"
	}

	return &Metrics{
		// Sandbox run metrics
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "runs_total",
			Help:      "Total number of simulation runs by kind and status",
		}, []string{"kind", "status"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "run_duration_seconds",
			Help:      "Simulation run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"kind"}),

		// Simulation event metrics
		MarginCalls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "margin_calls_total",
			Help:      "Total number of margin call events across runs",
		}),
		Liquidations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "liquidations_total",
			Help:      "Total number of liquidation events across runs",
		}),
		Rebalances: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "rebalances_total",
			Help:      "Total number of rebalance events across runs",
		}),
		ConvergenceWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "convergence_warnings_total",
			Help:      "Total number of waterfill convergence warnings",
		}),

		// Ingestion metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "frames_received_total",
			Help:      "Total number of feed frames received",
		}),
		SnapshotsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "snapshots_stored_total",
			Help:      "Total number of market snapshots stored to database",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "feed_reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}),
		NormalizeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "normalize_errors_total",
			Help:      "Total number of normalization errors by protocol",
		}, []string{"protocol"}),
		DuplicateSnapshot: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicate_snapshots_total",
			Help:      "Total number of snapshots dropped as duplicates",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful simulation run",
		}),
		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRun records a completed simulation run.
func RecordRun(kind, status string, durationSeconds float64) {
	DefaultMetrics.RunsTotal.WithLabelValues(kind, status).Inc()
	DefaultMetrics.RunDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordRunEvents records the event counts of a finished debt run.
func RecordRunEvents(marginCalls, liquidations, rebalances int) {
	DefaultMetrics.MarginCalls.Add(float64(marginCalls))
	DefaultMetrics.Liquidations.Add(float64(liquidations))
	DefaultMetrics.Rebalances.Add(float64(rebalances))
}

// RecordConvergenceWarnings records waterfill iteration budget exhaustions.
func RecordConvergenceWarnings(n int) {
	DefaultMetrics.ConvergenceWarnings.Add(float64(n))
}

// RecordFrameReceived increments the frames received counter.
func RecordFrameReceived() {
	DefaultMetrics.FramesReceived.Inc()
}

// RecordSnapshotStored increments the snapshots stored counter.
func RecordSnapshotStored() {
	DefaultMetrics.SnapshotsStored.Inc()
}

// RecordFeedReconnect increments the feed reconnect counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordNormalizeError records a normalization failure for a protocol.
func RecordNormalizeError(protocol string) {
	DefaultMetrics.NormalizeErrors.WithLabelValues(protocol).Inc()
}

// RecordDuplicateSnapshot increments the duplicate snapshot counter.
func RecordDuplicateSnapshot() {
	DefaultMetrics.DuplicateSnapshot.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
