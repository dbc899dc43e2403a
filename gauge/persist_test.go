package gauge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func testSnapshot(base time.Time) map[string][]Sample {
	return map[string][]Sample{
		"cpu": {
			{Metric: "cpu", Timestamp: base, Value: 1},
			{Metric: "cpu", Timestamp: base.Add(time.Second), Value: 2, Tags: map[string]string{"core": "0"}},
		},
		"mem": {
			{Metric: "mem", Timestamp: base.Add(2 * time.Second), Value: 512},
		},
	}
}

func openTestPersisters(t *testing.T) map[string]Persister {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLitePersister(filepath.Join(dir, "gauge.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	bdb, err := openBadgerPersister(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { bdb.Close() })

	return map[string]Persister{DriverSQLite: sqlite, DriverBadger: bdb}
}

func TestPersister_SaveAndLoad(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for name, p := range openTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			if err := p.Save(ctx, testSnapshot(base)); err != nil {
				t.Fatalf("save: %v", err)
			}
			samples, err := p.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(samples) != 3 {
				t.Fatalf("expected 3 samples, got %d", len(samples))
			}

			byMetric := make(map[string][]Sample)
			for _, s := range samples {
				byMetric[s.Metric] = append(byMetric[s.Metric], s)
			}
			cpu := byMetric["cpu"]
			if len(cpu) != 2 || cpu[0].Value != 1 || cpu[1].Value != 2 {
				t.Fatalf("unexpected cpu samples: %+v", cpu)
			}
			if !cpu[1].Timestamp.Equal(base.Add(time.Second)) {
				t.Errorf("timestamp not preserved: %v", cpu[1].Timestamp)
			}
			if cpu[1].Tags["core"] != "0" {
				t.Errorf("tags not preserved: %v", cpu[1].Tags)
			}
			if byMetric["mem"][0].Value != 512 {
				t.Errorf("unexpected mem sample: %+v", byMetric["mem"])
			}
		})
	}
}

func TestPersister_SaveReplacesPreviousSnapshot(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for name, p := range openTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			if err := p.Save(ctx, testSnapshot(base)); err != nil {
				t.Fatal(err)
			}
			next := map[string][]Sample{
				"disk": {{Metric: "disk", Timestamp: base, Value: 9}},
			}
			if err := p.Save(ctx, next); err != nil {
				t.Fatal(err)
			}

			samples, err := p.Load(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(samples) != 1 || samples[0].Metric != "disk" {
				t.Errorf("expected only the latest snapshot, got %+v", samples)
			}

			if err := p.Save(ctx, map[string][]Sample{}); err != nil {
				t.Fatal(err)
			}
			samples, _ = p.Load(ctx)
			if len(samples) != 0 {
				t.Errorf("expected empty load after empty save, got %d", len(samples))
			}
		})
	}
}

func TestPersister_CancelledSaveKeepsPreviousSnapshot(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, p := range openTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			if err := p.Save(context.Background(), testSnapshot(base)); err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			next := map[string][]Sample{
				"disk": {{Metric: "disk", Timestamp: base, Value: 9}},
			}
			if err := p.Save(ctx, next); err == nil {
				t.Fatal("expected save with cancelled context to fail")
			}

			samples, err := p.Load(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(samples) != 3 {
				t.Fatalf("expected previous 3 samples to survive, got %d", len(samples))
			}
			for _, s := range samples {
				if s.Metric == "disk" {
					t.Errorf("cancelled save leaked sample %+v", s)
				}
			}
		})
	}
}

func TestBadgerPersister_SaveOverwritesKeptSeries(t *testing.T) {
	p, err := openBadgerPersister(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	if err := p.Save(ctx, testSnapshot(base)); err != nil {
		t.Fatal(err)
	}
	next := map[string][]Sample{
		"cpu": {{Metric: "cpu", Timestamp: base.Add(time.Minute), Value: 7}},
	}
	if err := p.Save(ctx, next); err != nil {
		t.Fatal(err)
	}

	samples, err := p.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 1 || samples[0].Metric != "cpu" || samples[0].Value != 7 {
		t.Errorf("expected only the rewritten cpu sample, got %+v", samples)
	}
	stored, err := p.storedSeries()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := stored["mem"]; ok || len(stored) != 1 {
		t.Errorf("stale series left on disk: %v", stored)
	}
}

func TestPersister_Ping(t *testing.T) {
	for name, p := range openTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			if err := p.Ping(context.Background()); err != nil {
				t.Errorf("expected ping to succeed: %v", err)
			}
		})
	}
}

func TestNewPersister_UnknownDriver(t *testing.T) {
	if _, err := NewPersister(PersistenceConfig{Driver: "mongo", DSN: "x"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestSQLitePersister_Count(t *testing.T) {
	p, err := NewSQLitePersister(filepath.Join(t.TempDir(), "count.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx := context.Background()
	p.Save(ctx, testSnapshot(time.Now()))
	n, err := p.Count(ctx)
	if err != nil || n != 3 {
		t.Errorf("expected 3 rows, got %d (%v)", n, err)
	}
}
