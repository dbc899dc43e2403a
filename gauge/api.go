package gauge

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const maxBatchItems = 10000

// registerAPIRoutes registers the REST API under {prefix}/api.
func registerAPIRoutes(router *gin.Engine, e *Engine) {
	api := router.Group(e.config.Prefix + "/api")

	// Public: auth endpoints
	api.POST("/auth/login", loginHandler(e.auth))
	api.GET("/auth/verify", authMiddleware(e.auth), verifyHandler())

	// Protected: all other endpoints
	protected := api.Group("")
	protected.Use(authMiddleware(e.auth))

	// Ingestion
	ingest := protected.Group("")
	ingest.Use(rateLimitMiddleware(e.limiter))
	ingest.POST("/metrics", recordHandler(e))
	ingest.POST("/metrics/batch", recordBatchHandler(e))

	// Queries
	protected.GET("/metrics", metricsListHandler(e))
	protected.GET("/metrics/:name/stats", statsHandler(e))
	protected.GET("/metrics/:name/series", seriesHandler(e))
	protected.GET("/overview", overviewHandler(e))

	// Alerts
	protected.GET("/alerts", alertRulesHandler(e))
	protected.GET("/alerts/history", alertHistoryHandler(e))

	// Maintenance
	protected.POST("/prune", pruneHandler(e))

	// Runtime
	protected.GET("/runtime/info", runtimeInfoHandler(e))

	// Settings & data
	protected.GET("/settings", settingsHandler(e))
	protected.POST("/data/reset", dataResetHandler(e))
	registerExportRoute(protected, e)
}

// --- Ingestion ---

// RecordRequest is the body of a single metric write.
type RecordRequest struct {
	Metric string            `json:"metric"`
	Value  *float64          `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// BatchItemError describes one rejected item of a batch write.
type BatchItemError struct {
	Index  int    `json:"index"`
	Metric string `json:"metric"`
	Error  string `json:"error"`
}

func (r RecordRequest) record(store *Store) error {
	if r.Value == nil {
		return wrapInput(ErrInvalidInput, "value is required")
	}
	return store.Record(r.Metric, *r.Value, r.Tags)
}

func recordHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.record(e.store); err != nil {
			if errors.Is(err, ErrInvalidInput) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "recorded", "metric": req.Metric})
	}
}

func recordBatchHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var reqs []RecordRequest
		if err := c.ShouldBindJSON(&reqs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expected a JSON array of samples"})
			return
		}
		if len(reqs) > maxBatchItems {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "batch exceeds " + strconv.Itoa(maxBatchItems) + " items"})
			return
		}

		recorded := 0
		failures := make([]BatchItemError, 0)
		for i, req := range reqs {
			if err := req.record(e.store); err != nil {
				failures = append(failures, BatchItemError{Index: i, Metric: req.Metric, Error: err.Error()})
				continue
			}
			recorded++
		}

		status := http.StatusCreated
		if recorded == 0 && len(failures) > 0 {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"recorded": recorded,
			"failed":   len(failures),
			"errors":   failures,
		})
	}
}

// --- Queries ---

func metricsListHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics := e.store.Metrics()
		c.JSON(http.StatusOK, gin.H{"metrics": metrics, "count": len(metrics)})
	}
}

func statsHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		res := e.store.Stats(name, parseWindowParam(c, DefaultWindow))

		switch res.Status {
		case StatusNotFound:
			c.JSON(http.StatusNotFound, gin.H{
				"metric": name,
				"status": res.Status,
				"error":  ErrUnknownMetric.Error(),
			})
		case StatusNoData:
			c.JSON(http.StatusOK, gin.H{
				"metric": name,
				"status": res.Status,
				"window": res.Window.String(),
			})
		default:
			c.JSON(http.StatusOK, res)
		}
	}
}

func seriesHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		samples, ok := e.store.Series(name, parseWindowParam(c, time.Hour))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"metric": name, "status": StatusNotFound, "error": ErrUnknownMetric.Error()})
			return
		}

		if limit := queryInt(c, "limit", 0); limit > 0 && len(samples) > limit {
			samples = samples[len(samples)-limit:]
		}
		if samples == nil {
			samples = []Sample{}
		}
		c.JSON(http.StatusOK, gin.H{"metric": name, "samples": samples, "count": len(samples)})
	}
}

func overviewHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		overview := e.aggregator.Cached()
		if overview == nil || c.Query("refresh") == "true" {
			overview = e.aggregator.Refresh()
		}
		c.JSON(http.StatusOK, overview)
	}
}

// --- Alerts ---

func alertRulesHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules := e.alerts.Rules()
		c.JSON(http.StatusOK, gin.H{"enabled": e.config.Alerts.Enabled, "rules": rules, "count": len(rules)})
	}
}

func alertHistoryHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		alerts := e.alerts.History()
		if limit := queryInt(c, "limit", 0); limit > 0 && len(alerts) > limit {
			alerts = alerts[:limit]
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
	}
}

// --- Maintenance ---

func pruneHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed := e.store.Prune()
		c.JSON(http.StatusOK, gin.H{"removed": removed, "retention": e.store.Retention().String()})
	}
}

func runtimeInfoHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if e.runtimeSampler == nil {
			c.JSON(http.StatusOK, collectSystemInfo())
			return
		}
		c.JSON(http.StatusOK, e.runtimeSampler.SystemInfo())
	}
}

// --- Settings & Data ---

func settingsHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := e.config
		cfg.Dashboard.SecretKey = "[REDACTED]"
		cfg.Dashboard.Password = "[REDACTED]"
		cfg.Dashboard.PasswordHash = ""
		cfg.Redis.Password = ""
		// Copy so the engine's webhook slice keeps its secrets.
		hooks := make([]WebhookConfig, len(cfg.Alerts.Webhooks))
		for i, h := range cfg.Alerts.Webhooks {
			if h.Secret != "" {
				h.Secret = "[REDACTED]"
			}
			hooks[i] = h
		}
		cfg.Alerts.Webhooks = hooks
		c.JSON(http.StatusOK, cfg)
	}
}

func dataResetHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Confirm bool `json:"confirm"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
			c.JSON(http.StatusBadRequest, gin.H{"error": "send {\"confirm\": true} to reset all data"})
			return
		}
		e.store.Reset()
		c.JSON(http.StatusOK, gin.H{"status": "data reset complete"})
	}
}

// --- Query helpers ---

// parseWindowParam reads window_hours, then range, falling back to def.
func parseWindowParam(c *gin.Context, def time.Duration) time.Duration {
	if v := c.Query("window_hours"); v != "" {
		if hours, err := strconv.ParseFloat(v, 64); err == nil && hours > 0 {
			return HoursToWindow(hours)
		}
	}
	if r := c.Query("range"); r != "" {
		return ParseWindow(r)
	}
	return def
}

func queryInt(c *gin.Context, key string, defaultVal int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return defaultVal
}
