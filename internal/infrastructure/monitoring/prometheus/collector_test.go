package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
)

func newTestCollector(t *testing.T) MetricsCollector {
	t.Helper()
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "subsim", Subsystem: "unit"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func scrape(t *testing.T, c MetricsCollector) string {
	t.Helper()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewMetricsCollector_RequiresNamespace(t *testing.T) {
	c, err := NewMetricsCollector(CollectorConfig{}, nil)
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNewMetricsCollector_WithRuntimeCollectors(t *testing.T) {
	c, err := NewMetricsCollector(CollectorConfig{
		Namespace:            "subsim",
		EnableGoMetrics:      true,
		EnableProcessMetrics: true,
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, scrape(t, c), "go_goroutines")
}

func TestRegisterCounter_ExposedAndIdempotent(t *testing.T) {
	c := newTestCollector(t)

	first := c.RegisterCounter("records_total", "records", "outcome")
	second := c.RegisterCounter("records_total", "records", "outcome")

	first.WithLabelValues("matched").Inc()
	second.WithLabelValues("matched").Add(2)

	n, err := testutil.GatherAndCount(c.Gatherer(), "subsim_unit_records_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, scrape(t, c), `subsim_unit_records_total{outcome="matched"} 3`)
}

func TestRegister_TypeMismatchFallsBackToNoop(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("dual", "as counter")

	g := c.RegisterGauge("dual", "as gauge")
	assert.NotPanics(t, func() { g.WithLabelValues().Set(3) })

	h := c.RegisterHistogram("dual", "as histogram", nil)
	assert.NotPanics(t, func() { h.WithLabelValues().Observe(1) })
}

func TestGaugeAndHistogram(t *testing.T) {
	c := newTestCollector(t)

	g := c.RegisterGauge("active_workers", "workers", "pool")
	g.WithLabelValues("run").Set(4)
	g.WithLabelValues("run").Dec()

	h := c.RegisterHistogram("chunk_duration_seconds", "chunks", []float64{1, 5}, "pool")
	h.WithLabelValues("run").Observe(0.5)

	out := scrape(t, c)
	assert.Contains(t, out, `subsim_unit_active_workers{pool="run"} 3`)
	assert.Contains(t, out, `subsim_unit_chunk_duration_seconds_count{pool="run"} 1`)
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := newTestCollector(t)
	h := c.RegisterHistogram("op_seconds", "op", nil)

	timer := NewTimer(h.WithLabelValues())
	time.Sleep(time.Millisecond)
	assert.Greater(t, timer.ObserveDuration(), time.Duration(0))

	var nilTimer = NewTimer(nil)
	assert.NotPanics(t, func() { nilTimer.ObserveDuration() })
}

func TestEngineMetrics_RegisterAndRecord(t *testing.T) {
	c := newTestCollector(t)
	m := NewEngineMetrics(c)

	RecordRun(m, "shared", true, 2*time.Second)
	RecordRun(m, "shared", false, time.Second)
	RecordCacheAccess(m, "results", true)
	RecordCacheAccess(m, "results", false)
	RecordHTTPRequest(m, http.MethodPost, "/api/v1/runs", 200, 10*time.Millisecond)
	m.RecordsSkipped.WithLabelValues("parse_error").Inc()

	out := scrape(t, c)
	assert.Contains(t, out, `subsim_unit_runs_total{status="success"} 1`)
	assert.Contains(t, out, `subsim_unit_runs_total{status="failure"} 1`)
	assert.Contains(t, out, `subsim_unit_cache_hits_total{cache="results"} 1`)
	assert.Contains(t, out, `subsim_unit_cache_misses_total{cache="results"} 1`)
	assert.Contains(t, out, `subsim_unit_http_requests_total{method="POST",path="/api/v1/runs",status_code="200"} 1`)
	assert.Contains(t, out, `subsim_unit_records_skipped_total{reason="parse_error"} 1`)
}

func TestNewEngineMetrics_NilCollectorIsNoop(t *testing.T) {
	m := NewEngineMetrics(nil)
	assert.NotPanics(t, func() {
		RecordRun(m, "contains", true, time.Second)
		m.ActiveWorkers.WithLabelValues("run").Inc()
		m.MatchesPerQuery.WithLabelValues("contains").Observe(3)
	})
}
