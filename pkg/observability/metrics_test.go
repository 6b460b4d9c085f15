package observability

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	// a second registration on the same registry must collide
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_RecordDecision(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision("allow", "allowed", false, 2*time.Millisecond)
	m.RecordDecision("allow", "allowed", true, time.Microsecond)
	m.RecordDecision("deny", "explicit_deny", false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("allow", "allowed", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("allow", "allowed", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("deny", "explicit_deny", "false")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.EvaluationDuration))
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCacheLookup("decision", true)
	m.RecordCacheLookup("decision", false)
	m.RecordCacheLookup("decision", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("decision", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("decision", "miss")))

	m.SetAuditQueueDepth(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.AuditQueueDepth))

	m.RecordAuditDropped("queue_full")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDroppedTotal.WithLabelValues("queue_full")))

	m.RecordAuditWrite(true)
	m.RecordAuditWrite(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWritesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWritesTotal.WithLabelValues("failure")))

	m.SetSnapshotVersion(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.SnapshotVersion))

	m.RecordMutation("create_role", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues("create_role", "success")))

	m.RecordInvalidation("publish", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvalidationsTotal.WithLabelValues("publish", "failure")))

	m.RecordSchedulerRun("expire_requests", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerRunsTotal.WithLabelValues("expire_requests", "success")))

	m.RecordDBStats(sql.DBStats{OpenConnections: 5, InUse: 2, Idle: 3})
	assert.Equal(t, 5.0, testutil.ToFloat64(m.DBConnectionsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DBConnectionsInUse))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DBConnectionsIdle))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("allow", "allowed", false, time.Millisecond)
		m.RecordCacheLookup("decision", true)
		m.SetAuditQueueDepth(1)
		m.RecordAuditDropped("queue_full")
		m.RecordAuditWrite(true)
		m.SetSnapshotVersion(1)
		m.RecordMutation("x", true)
		m.RecordInvalidation("publish", true)
		m.RecordSchedulerRun("x", true)
		m.RecordDBStats(sql.DBStats{})
		m.WithOTel(nil)
	})

	var o *OTelMetrics
	assert.NotPanics(t, func() {
		o.RecordDecision(context.Background(), "allow", "allowed", false, time.Millisecond)
	})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/rbac/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("GET")

	for _, id := range []string{"a", "b", "c"} {
		req := httptest.NewRequest("GET", "/rbac/roles/"+id, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/rbac/roles/{id}", "404")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	called := false
	h := HTTPMetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.True(t, called)
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.SetSnapshotVersion(3)

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "datawave_authz_snapshot_version 3")
}
