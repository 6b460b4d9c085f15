package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every Record method is safe on a
// nil receiver so components can run uninstrumented.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Decision metrics
	DecisionsTotal     *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	CacheLookupsTotal  *prometheus.CounterVec

	// Audit pipeline metrics
	AuditQueueDepth   prometheus.Gauge
	AuditDroppedTotal *prometheus.CounterVec
	AuditWritesTotal  *prometheus.CounterVec

	// Policy metrics
	SnapshotVersion    prometheus.Gauge
	MutationsTotal     *prometheus.CounterVec
	InvalidationsTotal *prometheus.CounterVec
	SchedulerRunsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datawave_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datawave_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datawave_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"effect", "reason", "cached"},
		),
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datawave_authz_evaluation_duration_seconds",
				Help:    "Authorization check latency in seconds",
				Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
			},
			[]string{"effect"},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datawave_authz_cache_lookups_total",
				Help: "Decision and effective-permission cache lookups",
			},
			[]string{"cache", "result"},
		),

		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "datawave_authz_audit_queue_depth",
				Help: "Audit events waiting to be written",
			},
		),
		AuditDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datawave_authz_audit_dropped_total",
				Help: "Audit events rejected or lost",
			},
			[]string{"reason"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datawave_authz_audit_writes_total",
				Help: "Audit writes by outcome",
			},
			[]string{"status"},
		),

		SnapshotVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "datawave_authz_snapshot_version",
				Help: "Version of the published policy snapshot",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datawave_authz_mutations_total",
				Help: "Policy mutations by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datawave_authz_invalidations_total",
				Help: "Snapshot invalidation messages",
			},
			[]string{"direction", "status"},
		),
		SchedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datawave_authz_scheduler_runs_total",
				Help: "Scheduled job runs",
			},
			[]string{"job", "status"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "datawave_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "datawave_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "datawave_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.EvaluationDuration,
		m.CacheLookupsTotal,
		m.AuditQueueDepth,
		m.AuditDroppedTotal,
		m.AuditWritesTotal,
		m.SnapshotVersion,
		m.MutationsTotal,
		m.InvalidationsTotal,
		m.SchedulerRunsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
	)

	return m
}

// WithOTel mirrors decision metrics to OpenTelemetry instruments
func (m *Metrics) WithOTel(o *OTelMetrics) *Metrics {
	if m != nil {
		m.otel = o
	}
	return m
}

// RecordDecision counts a decision and observes its latency
func (m *Metrics) RecordDecision(effect, reason string, cached bool, d time.Duration) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(effect, reason, strconv.FormatBool(cached)).Inc()
	m.EvaluationDuration.WithLabelValues(effect).Observe(d.Seconds())
	m.otel.RecordDecision(context.Background(), effect, reason, cached, d)
}

// RecordCacheLookup counts a hit or miss on the named cache
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// SetAuditQueueDepth reports the audit queue length
func (m *Metrics) SetAuditQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Set(float64(depth))
}

// RecordAuditDropped counts an audit event that was rejected or lost
func (m *Metrics) RecordAuditDropped(reason string) {
	if m == nil {
		return
	}
	m.AuditDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordAuditWrite counts an audit write outcome
func (m *Metrics) RecordAuditWrite(success bool) {
	if m == nil {
		return
	}
	m.AuditWritesTotal.WithLabelValues(status(success)).Inc()
}

// SetSnapshotVersion reports the published snapshot version
func (m *Metrics) SetSnapshotVersion(version uint64) {
	if m == nil {
		return
	}
	m.SnapshotVersion.Set(float64(version))
}

// RecordMutation counts a policy mutation
func (m *Metrics) RecordMutation(operation string, success bool) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(operation, status(success)).Inc()
}

// RecordInvalidation counts a published or received invalidation
func (m *Metrics) RecordInvalidation(direction string, success bool) {
	if m == nil {
		return
	}
	m.InvalidationsTotal.WithLabelValues(direction, status(success)).Inc()
}

// RecordSchedulerRun counts a scheduled job run
func (m *Metrics) RecordSchedulerRun(job string, success bool) {
	if m == nil {
		return
	}
	m.SchedulerRunsTotal.WithLabelValues(job, status(success)).Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Requests are labelled
// with the mux route template so ids do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
