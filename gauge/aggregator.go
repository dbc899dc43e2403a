package gauge

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MetricSummary is one metric's row in the overview.
type MetricSummary struct {
	Name        string      `json:"name"`
	Status      StatsStatus `json:"status"`
	Count       int         `json:"count"`
	Mean        float64     `json:"mean"`
	Min         float64     `json:"min"`
	Max         float64     `json:"max"`
	P95         float64     `json:"p95"`
	LatestValue float64     `json:"latest_value"`
	LastSeen    time.Time   `json:"last_seen,omitempty"`
}

// Overview is the periodically computed snapshot of every metric.
type Overview struct {
	Window       time.Duration   `json:"window"`
	MetricCount  int             `json:"metric_count"`
	TotalSamples int             `json:"total_samples"`
	Metrics      []MetricSummary `json:"metrics"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Aggregator periodically summarizes the store. API endpoints read from the
// cached overview rather than scanning every series on each request.
type Aggregator struct {
	engine *Engine

	mu       sync.RWMutex
	overview *Overview
}

// newAggregator creates and starts the aggregation background loop.
func newAggregator(e *Engine) *Aggregator {
	agg := &Aggregator{engine: e}

	e.startBackground("aggregator", func(ctx context.Context) {
		agg.run(ctx)
		every(ctx, e.config.Aggregation.Interval, func() { agg.run(ctx) })
	})

	return agg
}

// run performs a single aggregation pass.
func (agg *Aggregator) run(ctx context.Context) {
	overview := computeOverview(agg.engine.store, agg.engine.config.Aggregation.Window)

	agg.mu.Lock()
	agg.overview = overview
	agg.mu.Unlock()

	agg.engine.wsHub.BroadcastOverview(overview)

	if pub := agg.engine.publisher; pub != nil {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := pub.Publish(pctx, overview); err != nil && agg.engine.config.DevMode {
			agg.engine.logger.Printf("redis publish failed: %v", err)
		}
		cancel()
	}
}

// Refresh recomputes the overview immediately and returns it.
func (agg *Aggregator) Refresh() *Overview {
	agg.run(agg.engine.ctx)
	return agg.Cached()
}

// Cached returns a copy of the most recently computed overview.
func (agg *Aggregator) Cached() *Overview {
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	if agg.overview == nil {
		return nil
	}
	cp := *agg.overview
	cp.Metrics = make([]MetricSummary, len(agg.overview.Metrics))
	copy(cp.Metrics, agg.overview.Metrics)
	return &cp
}

// computeOverview summarizes every metric in the store over window.
func computeOverview(store *Store, window time.Duration) *Overview {
	all := store.StatsAll(window)

	metrics := make([]MetricSummary, 0, len(all))
	for name, res := range all {
		metrics = append(metrics, MetricSummary{
			Name:        name,
			Status:      res.Status,
			Count:       res.Count,
			Mean:        res.Mean,
			Min:         res.Min,
			Max:         res.Max,
			P95:         res.P95,
			LatestValue: res.LatestValue,
			LastSeen:    res.LastSeen,
		})
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })

	return &Overview{
		Window:       window,
		MetricCount:  len(metrics),
		TotalSamples: store.TotalSamples(),
		Metrics:      metrics,
		Timestamp:    time.Now(),
	}
}
