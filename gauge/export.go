package gauge

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ExportRequest defines the request body for data export.
type ExportRequest struct {
	Format string `json:"format"` // "json" or "csv"
	Type   string `json:"type"`   // "samples" or "stats"
	Metric string `json:"metric"` // empty exports every metric
	Range  string `json:"range"`  // "5m", "1h", "24h", "7d", ...
}

const maxExportRecords = 100000

// registerExportRoute registers the data export endpoint.
func registerExportRoute(group *gin.RouterGroup, e *Engine) {
	group.POST("/data/export", func(c *gin.Context) {
		var req ExportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if req.Format == "" {
			req.Format = "json"
		}
		if req.Type == "" {
			req.Type = "samples"
		}
		if req.Range == "" {
			req.Range = "24h"
		}

		data, filename, err := exportData(e.store, req.Type, req.Metric, ParseWindow(req.Range))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		switch req.Format {
		case "json":
			exportJSON(c, data, filename)
		case "csv":
			exportCSV(c, data, filename)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format, use 'json' or 'csv'"})
		}
	})
}

func exportJSON(c *gin.Context, data interface{}, filename string) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to marshal data"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", filename))
	c.Data(http.StatusOK, "application/json", jsonData)
}

func exportCSV(c *gin.Context, data interface{}, filename string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", filename))
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	switch records := data.(type) {
	case []Sample:
		writer.Write([]string{"metric", "value", "tags", "timestamp"})
		for _, s := range records {
			writer.Write([]string{
				s.Metric,
				strconv.FormatFloat(s.Value, 'g', -1, 64),
				formatTagList(s.Tags),
				s.Timestamp.UTC().Format(time.RFC3339Nano),
			})
		}

	case []StatsResult:
		writer.Write([]string{"metric", "status", "count", "min", "max", "sum", "mean", "median", "std_dev", "p95", "p99", "latest_value"})
		for _, r := range records {
			writer.Write([]string{
				r.Metric, string(r.Status), strconv.Itoa(r.Count),
				fmt.Sprintf("%.6f", r.Min),
				fmt.Sprintf("%.6f", r.Max),
				fmt.Sprintf("%.6f", r.Sum),
				fmt.Sprintf("%.6f", r.Mean),
				fmt.Sprintf("%.6f", r.Median),
				fmt.Sprintf("%.6f", r.StdDev),
				fmt.Sprintf("%.6f", r.P95),
				fmt.Sprintf("%.6f", r.P99),
				fmt.Sprintf("%.6f", r.LatestValue),
			})
		}
	}
}

// exportData collects samples or stats for one metric, or all when metric
// is empty.
func exportData(store *Store, dataType, metric string, window time.Duration) (interface{}, string, error) {
	timestamp := time.Now().Format("20060102_150405")

	names := store.Names()
	if metric != "" {
		if store.Stats(metric, window).Status == StatusNotFound {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
		}
		names = []string{metric}
	}

	switch dataType {
	case "samples":
		var out []Sample
		for _, name := range names {
			samples, _ := store.Series(name, window)
			out = append(out, samples...)
			if len(out) >= maxExportRecords {
				out = out[:maxExportRecords]
				break
			}
		}
		if out == nil {
			out = []Sample{}
		}
		return out, fmt.Sprintf("gauge_samples_%s", timestamp), nil

	case "stats":
		out := make([]StatsResult, 0, len(names))
		for _, name := range names {
			out = append(out, store.Stats(name, window))
		}
		return out, fmt.Sprintf("gauge_stats_%s", timestamp), nil

	default:
		return nil, "", fmt.Errorf("unsupported export type %q, use: samples, stats", dataType)
	}
}

// formatTagList renders tags as sorted "k=v;k2=v2", the inverse of parseTagList.
func formatTagList(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + tags[k]
	}
	return strings.Join(parts, ";")
}
