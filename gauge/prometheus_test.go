package gauge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheus_Exposition(t *testing.T) {
	e, router := setupAPIEngine(t, func(c *Config) { c.Prometheus.Enabled = true })

	e.Record("latency", 10, nil)
	e.Record("latency", 30, nil)
	e.Record(`odd"name`, 1, nil)

	w := serve(router, httptest.NewRequest("GET", "/gauge/prometheus", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		"gauge_metrics_total 2",
		`gauge_metric_count{metric="latency"} 2`,
		`gauge_metric_sum{metric="latency"} 40`,
		`gauge_metric_mean{metric="latency"} 20`,
		`gauge_metric_latest{metric="latency"} 30`,
		`gauge_metric_count{metric="odd\"name"} 1`,
		"gauge_samples_retained 3",
		"# TYPE gauge_uptime_seconds gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
}

func TestPrometheus_SkipsMetricsWithoutData(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, nil, WithClock(clock.Now))

	e.Record("old", 5, nil)
	clock.Advance(e.config.Aggregation.Window * 2)

	body := buildPrometheusMetrics(e)
	if !strings.Contains(body, `gauge_metric_count{metric="old"} 0`) {
		t.Errorf("expected zero count for stale metric:\n%s", body)
	}
	if strings.Contains(body, `gauge_metric_mean{metric="old"}`) {
		t.Errorf("stale metric should have no mean:\n%s", body)
	}
}

func TestPrometheus_DisabledByDefault(t *testing.T) {
	_, router := setupAPIEngine(t, nil)

	w := serve(router, httptest.NewRequest("GET", "/gauge/prometheus", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 when disabled, got %d", w.Code)
	}
}
