package observability

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersEverything(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordOperation("commit", ResultSuccess, 10*time.Millisecond)
	m.RecordRejection("duplicate_name")
	m.RecordAuditEntry("role_created")
	m.RecordCacheLookup(true)
	m.RecordSnapshot("file", nil, time.Unix(1700000000, 0))
	m.SetRoleCounts(3, 7)
	m.RecordDBStats(sql.DBStats{InUse: 2, Idle: 5})
	m.HTTPRequestsTotal.WithLabelValues("GET", "/metrics", "200").Inc()
	m.HTTPRequestDuration.WithLabelValues("GET", "/metrics").Observe(0.1)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 13 {
		t.Errorf("Expected 13 metric families, got %d", len(families))
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "rolekeeper_") {
			t.Errorf("Metric %s lacks the rolekeeper_ prefix", f.GetName())
		}
	}
}

func TestMetrics_RecordHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOperation("delete_role", ResultRejected, time.Millisecond)
	m.RecordOperation("delete_role", ResultRejected, time.Millisecond)
	m.RecordRejection("last_administrative_role")
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(true)
	m.RecordSnapshot("s3", errors.New("denied"), time.Now())
	m.SetRoleCounts(4, 9)

	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("delete_role", ResultRejected)); got != 2 {
		t.Errorf("operations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RejectionsTotal.WithLabelValues("last_administrative_role")); got != 1 {
		t.Errorf("rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CheckerCacheTotal.WithLabelValues("hit")); got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CheckerCacheTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues("s3", ResultError)); got != 1 {
		t.Errorf("snapshot errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SnapshotLastSuccess); got != 0 {
		t.Errorf("last success should stay unset after a failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.RolesTotal); got != 4 {
		t.Errorf("roles = %v, want 4", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordOperation("commit", ResultSuccess, time.Second)
	m.RecordRejection("x")
	m.RecordAuditEntry("x")
	m.RecordCacheLookup(true)
	m.RecordSnapshot("file", nil, time.Now())
	m.SetRoleCounts(1, 1)
	m.RecordDBStats(sql.DBStats{})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.Handle("/metrics", MetricsHandler(registry))
	router.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	for _, path := range []string{"/missing", "/metrics"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
	}

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/missing", "404")); got != 1 {
		t.Errorf("404 requests = %v, want 1", got)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), `rolekeeper_http_requests_total{method="GET",path="/missing",status="404"} 1`) {
		t.Errorf("exposition is missing the request counter:\n%s", body)
	}
}
