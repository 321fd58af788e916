package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()

	m.RoutesTotal.WithLabelValues("direct_tool").Inc()
	m.RoutesTotal.WithLabelValues("direct_tool").Inc()
	m.RoutesTotal.WithLabelValues("orchestrated").Inc()
	m.SessionsTotal.WithLabelValues("completed").Inc()
	m.SandboxInFlight.Set(3)

	if got := testutil.ToFloat64(m.RoutesTotal.WithLabelValues("direct_tool")); got != 2 {
		t.Errorf("direct_tool routes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RoutesTotal.WithLabelValues("orchestrated")); got != 1 {
		t.Errorf("orchestrated routes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SandboxInFlight); got != 3 {
		t.Errorf("in flight = %v, want 3", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.Materializations.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(body, "toolgate_materializations_total 1") {
		t.Errorf("exposition missing counter:\n%s", body)
	}
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.CacheHits.Inc()
	if got := testutil.ToFloat64(b.CacheHits); got != 0 {
		t.Errorf("registry leaked across instances: %v", got)
	}
}
