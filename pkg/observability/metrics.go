package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation results used as the "result" label
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Engine metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RejectionsTotal   *prometheus.CounterVec
	AuditEntriesTotal *prometheus.CounterVec

	// Checker metrics
	CheckerCacheTotal *prometheus.CounterVec

	// Snapshot metrics
	SnapshotsTotal      *prometheus.CounterVec
	SnapshotLastSuccess prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	RolesTotal       prometheus.Gauge
	AssignmentsTotal prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolekeeper_operations_total",
				Help: "Total number of engine operations",
			},
			[]string{"operation", "result"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolekeeper_operation_duration_seconds",
				Help:    "Engine operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolekeeper_rejections_total",
				Help: "Total number of operations rejected by a role invariant",
			},
			[]string{"kind"},
		),
		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolekeeper_audit_entries_total",
				Help: "Total number of activity log entries written",
			},
			[]string{"action"},
		),

		CheckerCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolekeeper_checker_cache_total",
				Help: "Permission checker cache lookups",
			},
			[]string{"result"},
		),

		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolekeeper_snapshots_total",
				Help: "Total number of role snapshots written",
			},
			[]string{"sink", "status"},
		),
		SnapshotLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolekeeper_snapshot_last_success_timestamp_seconds",
				Help: "Unix time of the last successful snapshot",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolekeeper_db_connections_active",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolekeeper_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		RolesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolekeeper_roles",
				Help: "Number of roles",
			},
		),
		AssignmentsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolekeeper_assignments",
				Help: "Number of user role assignments",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OperationsTotal,
		m.OperationDuration,
		m.RejectionsTotal,
		m.AuditEntriesTotal,
		m.CheckerCacheTotal,
		m.SnapshotsTotal,
		m.SnapshotLastSuccess,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RolesTotal,
		m.AssignmentsTotal,
	)

	return m
}

// The record helpers are no-ops on a nil *Metrics so components can run
// without a registry.

// RecordOperation counts one engine operation and its duration
func (m *Metrics) RecordOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRejection counts an operation refused with the given error kind
func (m *Metrics) RecordRejection(kind string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(kind).Inc()
}

// RecordAuditEntry counts one written activity log entry
func (m *Metrics) RecordAuditEntry(action string) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(action).Inc()
}

// RecordCacheLookup counts a checker cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CheckerCacheTotal.WithLabelValues(result).Inc()
}

// RecordSnapshot counts a snapshot attempt for sink
func (m *Metrics) RecordSnapshot(sink string, err error, at time.Time) {
	if m == nil {
		return
	}
	if err != nil {
		m.SnapshotsTotal.WithLabelValues(sink, ResultError).Inc()
		return
	}
	m.SnapshotsTotal.WithLabelValues(sink, ResultSuccess).Inc()
	m.SnapshotLastSuccess.Set(float64(at.Unix()))
}

// SetRoleCounts updates the business gauges
func (m *Metrics) SetRoleCounts(roles, assignments int) {
	if m == nil {
		return
	}
	m.RolesTotal.Set(float64(roles))
	m.AssignmentsTotal.Set(float64(assignments))
}

// RecordDBStats copies connection pool stats into the database gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
