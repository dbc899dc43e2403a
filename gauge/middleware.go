package gauge

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// MetricRequestDuration is the default metric fed by Middleware.
const MetricRequestDuration = "http_request_duration_ms"

// Middleware records the latency of every request handled by the host
// router as a sample tagged with method, route and status. Routes under the
// gauge prefix and the configured exclude patterns are skipped.
//
//	router.Use(g.Middleware())
func (e *Engine) Middleware() gin.HandlerFunc {
	metric := e.config.Requests.Metric
	excludePatterns := make([]string, 0, len(e.config.Requests.ExcludePaths)+2)
	excludePatterns = append(excludePatterns, e.config.Prefix+"/*", "/favicon.ico")
	excludePatterns = append(excludePatterns, e.config.Requests.ExcludePaths...)

	return func(c *gin.Context) {
		requestPath := c.Request.URL.Path
		if shouldExclude(requestPath, excludePatterns) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		// Route pattern ("/users/:id") keeps the tag set small.
		route := c.FullPath()
		if route == "" {
			route = requestPath
		}
		tags := map[string]string{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}

		ms := float64(latency) / float64(time.Millisecond)
		if err := e.store.Record(metric, ms, tags); err != nil && e.config.DevMode {
			e.logger.Printf("failed to record request latency: %v", err)
		}
	}
}

// shouldExclude checks if a path matches any exclusion pattern.
func shouldExclude(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
		// "/gauge/*" also covers "/gauge" and deeper paths.
		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "/*")
			if strings.HasPrefix(path, prefix+"/") || path == prefix {
				return true
			}
		}
	}
	return false
}
