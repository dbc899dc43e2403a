package gauge

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"
)

// Names of the self-monitoring metrics recorded by the runtime sampler.
const (
	MetricGoroutines   = "go_goroutines"
	MetricHeapAlloc    = "go_heap_alloc_bytes"
	MetricHeapInUse    = "go_heap_inuse_bytes"
	MetricGCCount      = "go_gc_count"
	MetricGCPauseNanos = "go_gc_pause_ns"
)

// SystemInfo holds static build and system information collected at startup.
type SystemInfo struct {
	GoVersion   string `json:"go_version"`
	GOOS        string `json:"goos"`
	GOARCH      string `json:"goarch"`
	NumCPU      int    `json:"num_cpu"`
	PID         int    `json:"pid"`
	Hostname    string `json:"hostname"`
	VCSRevision string `json:"vcs_revision,omitempty"`
}

// RuntimeSampler records Go runtime metrics into the store, so the
// process monitors itself through the same API as any producer.
type RuntimeSampler struct {
	store      *Store
	systemInfo SystemInfo
	tags       map[string]string
}

// newRuntimeSampler creates and starts the runtime metrics sampler.
func newRuntimeSampler(e *Engine) *RuntimeSampler {
	rs := &RuntimeSampler{
		store:      e.store,
		systemInfo: collectSystemInfo(),
		tags:       map[string]string{"app": e.config.AppName},
	}

	e.startBackground("runtime-sampler", func(ctx context.Context) {
		rs.sample()
		every(ctx, e.config.Runtime.SampleInterval, rs.sample)
	})

	return rs
}

// sample records a single runtime snapshot.
func (rs *RuntimeSampler) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var lastPause uint64
	if memStats.NumGC > 0 {
		// PauseNs is a circular buffer of recent pauses.
		lastPause = memStats.PauseNs[(memStats.NumGC+255)%256]
	}

	rs.store.Record(MetricGoroutines, float64(runtime.NumGoroutine()), rs.tags)
	rs.store.Record(MetricHeapAlloc, float64(memStats.HeapAlloc), rs.tags)
	rs.store.Record(MetricHeapInUse, float64(memStats.HeapInuse), rs.tags)
	rs.store.Record(MetricGCCount, float64(memStats.NumGC), rs.tags)
	rs.store.Record(MetricGCPauseNanos, float64(lastPause), rs.tags)
}

// SystemInfo returns static system information.
func (rs *RuntimeSampler) SystemInfo() SystemInfo {
	return rs.systemInfo
}

func collectSystemInfo() SystemInfo {
	info := SystemInfo{
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		PID:       os.Getpid(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.VCSRevision = s.Value
			}
		}
	}
	return info
}
