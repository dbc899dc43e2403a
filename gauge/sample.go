package gauge

import (
	"math"
	"time"
)

// Sample is a single timestamped observation of a metric. Samples are
// created by the Store and never mutated afterwards; readers get copies.
type Sample struct {
	Metric    string            `json:"metric"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// clone returns a deep copy so callers cannot reach the stored tag map.
func (s Sample) clone() Sample {
	s.Tags = copyTags(s.Tags)
	return s
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	return cp
}

// StatsStatus tells apart a computed result from the two expected empty cases.
type StatsStatus string

const (
	StatusOK       StatsStatus = "ok"
	StatusNotFound StatsStatus = "not_found"
	StatusNoData   StatsStatus = "no_data"
)

// StatsResult is the outcome of a windowed aggregation. Numeric fields are
// only meaningful when Status is StatusOK.
type StatsResult struct {
	Metric      string        `json:"metric"`
	Status      StatsStatus   `json:"status"`
	Window      time.Duration `json:"window"`
	Count       int           `json:"count"`
	Min         float64       `json:"min"`
	Max         float64       `json:"max"`
	Sum         float64       `json:"sum"`
	Mean        float64       `json:"mean"`
	Median      float64       `json:"median"`
	StdDev      float64       `json:"std_dev"`
	P95         float64       `json:"p95"`
	P99         float64       `json:"p99"`
	LatestValue float64       `json:"latest_value"`
	FirstSeen   time.Time     `json:"first_seen,omitempty"`
	LastSeen    time.Time     `json:"last_seen,omitempty"`
}

// OK reports whether statistics were computed.
func (r StatsResult) OK() bool {
	return r.Status == StatusOK
}

// Err maps the empty outcomes to sentinel errors, nil for StatusOK.
func (r StatsResult) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusNotFound:
		return ErrUnknownMetric
	default:
		return ErrNoData
	}
}

// MetricInfo describes a known metric for listings.
type MetricInfo struct {
	Name        string    `json:"name"`
	SampleCount int       `json:"sample_count"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	Dropped     int       `json:"dropped,omitempty"`
}

// Window presets accepted by ParseWindow.
var windowPresets = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ParseWindow converts a range identifier ("5m", "1h", "7d", ...) into a
// duration. Anything else parses with time.ParseDuration, falling back to
// the default 24h window.
func ParseWindow(r string) time.Duration {
	if d, ok := windowPresets[r]; ok {
		return d
	}
	if d, err := time.ParseDuration(r); err == nil && d > 0 {
		return d
	}
	return DefaultWindow
}

// MaxWindow is the widest window a duration can express. Larger hour
// counts are clamped to it.
const MaxWindow = time.Duration(math.MaxInt64)

// HoursToWindow converts a fractional hour count into a window duration.
// Non-positive and NaN counts give the default window.
func HoursToWindow(hours float64) time.Duration {
	if math.IsNaN(hours) || hours <= 0 {
		return DefaultWindow
	}
	d := hours * float64(time.Hour)
	if d >= float64(MaxWindow) {
		return MaxWindow
	}
	return time.Duration(d)
}
