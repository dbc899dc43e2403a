package gauge

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultRetention is how long samples are kept when no retention is given.
const DefaultRetention = 30 * 24 * time.Hour

// Store is an in-memory, thread-safe collection of named time series.
//
// A single mutex guards every series. Exported methods take it exactly once
// and delegate to *Locked helpers, so composite operations never re-enter
// the lock.
type Store struct {
	mu         sync.Mutex
	series     map[string]*series
	retention  time.Duration
	maxSamples int
	now        func() time.Time
	observers  []func(Sample)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetention sets how long samples survive Prune. Non-positive values
// keep the default of 30 days.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// MaxRetentionDays is the longest retention a duration can hold.
const MaxRetentionDays = int(MaxWindow / (24 * time.Hour))

// WithRetentionDays is WithRetention expressed in whole days, clamped to
// MaxRetentionDays.
func WithRetentionDays(days int) StoreOption {
	if days > MaxRetentionDays {
		return WithRetention(MaxWindow)
	}
	return WithRetention(time.Duration(days) * 24 * time.Hour)
}

// WithClock replaces the wall clock used for timestamps and windows.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxSamples bounds each series; the oldest sample is dropped once
// the bound is reached.
func WithMaxSamples(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxSamples = n
		}
	}
}

// WithObserver registers a callback invoked with every recorded sample.
// Observers run after the lock is released and must not block.
func WithObserver(fn func(Sample)) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		series:     make(map[string]*series),
		retention:  DefaultRetention,
		maxSamples: defaultMaxSamples,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention returns the configured retention period.
func (s *Store) Retention() time.Duration {
	return s.retention
}

// Record appends a sample to the named metric, creating the series on
// first use. The timestamp is taken from the store clock.
func (s *Store) Record(name string, value float64, tags map[string]string) error {
	if err := validateSample(name, value); err != nil {
		return err
	}

	s.mu.Lock()
	sample := Sample{
		Metric:    name,
		Timestamp: s.now(),
		Value:     value,
		Tags:      copyTags(tags),
	}
	s.seriesLocked(name).append(sample)
	observers := s.observers
	s.mu.Unlock()

	for _, fn := range observers {
		fn(sample.clone())
	}
	return nil
}

func validateSample(name string, value float64) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidMetricName
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ErrNonFiniteValue
	}
	return nil
}

// Stats aggregates the samples recorded within the last window.
func (s *Store) Stats(name string, window time.Duration) StatsResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked(name, window)
}

// StatsHours is Stats with the window given in (fractional) hours.
func (s *Store) StatsHours(name string, hours float64) StatsResult {
	return s.Stats(name, HoursToWindow(hours))
}

// StatsAll aggregates every known metric over the same window, keyed by name.
func (s *Store) StatsAll(window time.Duration) map[string]StatsResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]StatsResult, len(s.series))
	for name := range s.series {
		out[name] = s.statsLocked(name, window)
	}
	return out
}

func (s *Store) statsLocked(name string, window time.Duration) StatsResult {
	if window <= 0 {
		window = DefaultWindow
	}
	sr, ok := s.series[name]
	if !ok {
		return StatsResult{Metric: name, Status: StatusNotFound, Window: window}
	}
	now := s.now()
	res := Aggregate(sr.since(now.Add(-window)), now, window)
	res.Metric = name
	return res
}

// Prune removes samples older than the retention period from every series
// and returns how many were removed. Emptied series stay registered.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, sr := range s.series {
		removed += sr.pruneBefore(cutoff)
	}
	return removed
}

// Names returns the known metric names in sorted order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namesLocked()
}

func (s *Store) namesLocked() []string {
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metrics lists every known metric with its sample count, sorted by name.
func (s *Store) Metrics() []MetricInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := s.namesLocked()
	out := make([]MetricInfo, 0, len(names))
	for _, name := range names {
		sr := s.series[name]
		info := MetricInfo{Name: name, SampleCount: sr.samples.len(), Dropped: sr.dropped}
		if last, ok := sr.samples.last(); ok {
			info.LastSeen = last.Timestamp
		}
		out = append(out, info)
	}
	return out
}

// Len returns the number of known metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

// SampleCount returns the number of retained samples for a metric.
func (s *Store) SampleCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.series[name]; ok {
		return sr.samples.len()
	}
	return 0
}

// TotalSamples returns the number of retained samples across all metrics.
func (s *Store) TotalSamples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, sr := range s.series {
		total += sr.samples.len()
	}
	return total
}

// Series returns copies of the samples recorded within the last window,
// oldest first. The boolean is false for unknown metrics.
func (s *Store) Series(name string, window time.Duration) ([]Sample, bool) {
	if window <= 0 {
		window = DefaultWindow
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[name]
	if !ok {
		return nil, false
	}
	return sr.since(s.now().Add(-window)), true
}

// Snapshot returns a deep copy of every retained sample, grouped by metric.
func (s *Store) Snapshot() map[string][]Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]Sample, len(s.series))
	for name, sr := range s.series {
		items := sr.samples.items()
		for i := range items {
			items[i] = items[i].clone()
		}
		out[name] = items
	}
	return out
}

// Load merges previously persisted samples into the store, keeping their
// original timestamps. Each affected series is re-ordered by timestamp.
// Invalid samples are skipped; the number loaded is returned.
func (s *Store) Load(samples []Sample) int {
	grouped := make(map[string][]Sample)
	for _, sample := range samples {
		if validateSample(sample.Metric, sample.Value) != nil {
			continue
		}
		grouped[sample.Metric] = append(grouped[sample.Metric], sample.clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for name, incoming := range grouped {
		sr := s.seriesLocked(name)
		merged := append(sr.samples.items(), incoming...)
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		})
		sr.samples.reset()
		for _, sample := range merged {
			sr.append(sample)
		}
		loaded += len(incoming)
	}
	return loaded
}

// Reset drops every metric.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(map[string]*series)
}

func (s *Store) seriesLocked(name string) *series {
	sr, ok := s.series[name]
	if !ok {
		sr = newSeries(name, s.maxSamples)
		s.series[name] = sr
	}
	return sr
}
