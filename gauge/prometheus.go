package gauge

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// registerPrometheusRoute registers the Prometheus exposition endpoint.
func registerPrometheusRoute(router *gin.Engine, e *Engine) {
	router.GET(e.config.Prometheus.Path, func(c *gin.Context) {
		metrics := buildPrometheusMetrics(e)
		c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(metrics))
	})
}

// buildPrometheusMetrics renders per-metric window stats in the Prometheus
// text format. Each stored metric becomes a label value.
func buildPrometheusMetrics(e *Engine) string {
	var b strings.Builder

	all := e.store.StatsAll(e.config.Aggregation.Window)
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(&b, "# HELP gauge_metrics_total Number of known metrics\n")
	fmt.Fprintf(&b, "# TYPE gauge_metrics_total gauge\n")
	fmt.Fprintf(&b, "gauge_metrics_total %d\n\n", len(names))

	fmt.Fprintf(&b, "# HELP gauge_metric_count Samples in the aggregation window\n")
	fmt.Fprintf(&b, "# TYPE gauge_metric_count gauge\n")
	for _, name := range names {
		fmt.Fprintf(&b, "gauge_metric_count{metric=%q} %d\n", name, all[name].Count)
	}
	b.WriteString("\n")

	writeStatGauge(&b, "sum", "Sum of samples in the aggregation window", names, all, func(r StatsResult) float64 { return r.Sum })
	writeStatGauge(&b, "mean", "Mean of samples in the aggregation window", names, all, func(r StatsResult) float64 { return r.Mean })
	writeStatGauge(&b, "min", "Minimum sample in the aggregation window", names, all, func(r StatsResult) float64 { return r.Min })
	writeStatGauge(&b, "max", "Maximum sample in the aggregation window", names, all, func(r StatsResult) float64 { return r.Max })
	writeStatGauge(&b, "latest", "Most recent sample value", names, all, func(r StatsResult) float64 { return r.LatestValue })

	fmt.Fprintf(&b, "# HELP gauge_samples_retained Samples held in memory\n")
	fmt.Fprintf(&b, "# TYPE gauge_samples_retained gauge\n")
	fmt.Fprintf(&b, "gauge_samples_retained %d\n\n", e.store.TotalSamples())

	fmt.Fprintf(&b, "# HELP gauge_uptime_seconds Engine uptime in seconds\n")
	fmt.Fprintf(&b, "# TYPE gauge_uptime_seconds gauge\n")
	fmt.Fprintf(&b, "gauge_uptime_seconds %.0f\n\n", e.Uptime().Seconds())

	return b.String()
}

// writeStatGauge writes one gauge family; metrics without data are skipped.
func writeStatGauge(b *strings.Builder, stat, help string, names []string, all map[string]StatsResult, value func(StatsResult) float64) {
	fmt.Fprintf(b, "# HELP gauge_metric_%s %s\n", stat, help)
	fmt.Fprintf(b, "# TYPE gauge_metric_%s gauge\n", stat)
	for _, name := range names {
		r := all[name]
		if !r.OK() {
			continue
		}
		fmt.Fprintf(b, "gauge_metric_%s{metric=%q} %g\n", stat, name, value(r))
	}
	b.WriteString("\n")
}
