package gauge

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultCheckTimeout = 5 * time.Second

// HealthCheck is a dependency probe reported by the health endpoint.
type HealthCheck struct {
	// Name is the unique identifier for this check.
	Name string
	// Critical marks this check as critical: failure means "unhealthy".
	Critical bool
	// Timeout bounds one run (default: 5s).
	Timeout time.Duration
	// CheckFunc performs the check.
	CheckFunc func(ctx context.Context) error
}

// HealthResponse is the JSON structure returned by the public health endpoint.
type HealthResponse struct {
	Status    string                         `json:"status"`
	App       string                         `json:"app"`
	Timestamp time.Time                      `json:"timestamp"`
	Uptime    string                         `json:"uptime"`
	Metrics   int                            `json:"metrics"`
	Samples   int                            `json:"samples"`
	Checks    map[string]HealthCheckResponse `json:"checks,omitempty"`
}

// HealthCheckResponse is one check's status in the health endpoint.
type HealthCheckResponse struct {
	Status    string  `json:"status"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// AddHealthCheck registers a check, replacing any check with the same name.
func (e *Engine) AddHealthCheck(check HealthCheck) {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	for i, existing := range e.healthChecks {
		if existing.Name == check.Name {
			e.healthChecks[i] = check
			return
		}
	}
	e.healthChecks = append(e.healthChecks, check)
	if e.config.DevMode {
		e.logger.Printf("registered health check: %s", check.Name)
	}
}

func (e *Engine) registerBuiltinChecks() {
	if e.persister != nil {
		e.AddHealthCheck(HealthCheck{Name: e.config.Persistence.Driver, Critical: true, CheckFunc: e.persister.Ping})
	}
	if e.publisher != nil {
		e.AddHealthCheck(HealthCheck{Name: "redis", CheckFunc: e.publisher.Ping})
	}
}

// CheckHealth runs every registered check and folds the results into a
// composite status: healthy, degraded (non-critical failure) or unhealthy.
func (e *Engine) CheckHealth(ctx context.Context) HealthResponse {
	e.healthMu.RLock()
	checks := make([]HealthCheck, len(e.healthChecks))
	copy(checks, e.healthChecks)
	e.healthMu.RUnlock()
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	resp := HealthResponse{
		Status:    "healthy",
		App:       e.config.AppName,
		Timestamp: time.Now(),
		Uptime:    formatDuration(e.Uptime()),
		Metrics:   e.store.Len(),
		Samples:   e.store.TotalSamples(),
	}
	if len(checks) == 0 {
		return resp
	}

	resp.Checks = make(map[string]HealthCheckResponse, len(checks))
	hasCriticalFail := false
	hasNonCriticalFail := false
	for _, check := range checks {
		result := runCheck(ctx, check)
		resp.Checks[check.Name] = result
		if result.Status != "healthy" {
			if check.Critical {
				hasCriticalFail = true
			} else {
				hasNonCriticalFail = true
			}
		}
	}

	switch {
	case hasCriticalFail:
		resp.Status = "unhealthy"
	case hasNonCriticalFail:
		resp.Status = "degraded"
	}
	return resp
}

func runCheck(ctx context.Context, check HealthCheck) HealthCheckResponse {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := check.CheckFunc(ctx)
	resp := HealthCheckResponse{
		Status:    "healthy",
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
	}
	if err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
	}
	return resp
}

// registerHealthRoutes registers public health endpoints on the router.
func registerHealthRoutes(router *gin.Engine, e *Engine) {
	prefix := e.config.Prefix

	router.GET(prefix+"/health", func(c *gin.Context) {
		resp := e.CheckHealth(c.Request.Context())

		statusCode := http.StatusOK
		switch resp.Status {
		case "unhealthy":
			statusCode = http.StatusServiceUnavailable
		case "degraded":
			statusCode = http.StatusMultiStatus
		}
		c.JSON(statusCode, resp)
	})

	// Kubernetes liveness probe
	router.GET(prefix+"/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})

	// Kubernetes readiness probe
	router.GET(prefix+"/health/ready", func(c *gin.Context) {
		if e.CheckHealth(c.Request.Context()).Status == "unhealthy" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours < 24 {
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := hours / 24
	hours = hours % 24
	return fmt.Sprintf("%dd%dh%dm", days, hours, minutes)
}
