package gauge

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_RecordsRequestLatency(t *testing.T) {
	e, router := setupAPIEngine(t, nil)
	router.Use(e.Middleware())
	router.GET("/users/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.POST("/fail", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	serve(router, httptest.NewRequest("GET", "/users/42", nil))
	serve(router, httptest.NewRequest("POST", "/fail", nil))

	samples, ok := e.Store().Series(MetricRequestDuration, time.Hour)
	if !ok || len(samples) != 2 {
		t.Fatalf("expected 2 request samples, got %d", len(samples))
	}
	first := samples[0]
	if first.Tags["route"] != "/users/:id" || first.Tags["method"] != "GET" || first.Tags["status"] != "200" {
		t.Errorf("unexpected tags: %v", first.Tags)
	}
	if samples[1].Tags["status"] != "500" {
		t.Errorf("expected status 500, got %v", samples[1].Tags)
	}
	if first.Value < 0 {
		t.Errorf("latency must not be negative: %v", first.Value)
	}
}

func TestMiddleware_SkipsExcludedPaths(t *testing.T) {
	e, router := setupAPIEngine(t, func(c *Config) {
		c.Requests.ExcludePaths = []string{"/internal/*"}
		c.Requests.Metric = "req_ms"
	})
	router.Use(e.Middleware())
	router.GET("/internal/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/public", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, httptest.NewRequest("GET", "/internal/ping", nil))
	serve(router, httptest.NewRequest("GET", "/favicon.ico", nil))
	serve(router, httptest.NewRequest("GET", "/public", nil))

	if n := e.Store().SampleCount("req_ms"); n != 1 {
		t.Errorf("expected only /public to be recorded, got %d samples", n)
	}
}

func TestShouldExclude(t *testing.T) {
	patterns := []string{"/gauge/*", "/static/*.js"}
	tests := []struct {
		path string
		want bool
	}{
		{"/gauge", true},
		{"/gauge/api/metrics", true},
		{"/gaugex", false},
		{"/static/app.js", true},
		{"/static/app.css", false},
		{"/users", false},
	}
	for _, tt := range tests {
		if got := shouldExclude(tt.path, patterns); got != tt.want {
			t.Errorf("shouldExclude(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
