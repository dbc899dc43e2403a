package gauge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBatchProcessor_MixedFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore()
	bp := &BatchProcessor{Store: store, Workers: 2, FileTimeout: 5 * time.Second}

	csvPath := writeTestFile(t, dir, "latency.csv",
		"metric,value,tags\nlatency,10,route=/a;method=GET\nlatency,20,\nlatency,30,route=/b\n")
	jsonPath := writeTestFile(t, dir, "queue.jsonl",
		`{"metric":"queue","value":1}`+"\n\n"+`{"metric":"queue","value":2,"tags":{"q":"mail"}}`+"\n")
	badPath := writeTestFile(t, dir, "bad.jsonl",
		`{"metric":"bad","value":1}`+"\n"+`{not json`+"\n")
	missing := filepath.Join(dir, "missing.csv")

	paths := []string{csvPath, badPath, missing, jsonPath}
	report := bp.ProcessFiles(context.Background(), paths)

	if len(report.Files) != len(paths) {
		t.Fatalf("expected %d results, got %d", len(paths), len(report.Files))
	}
	for i, r := range report.Files {
		if r.Path != paths[i] {
			t.Errorf("result %d: expected path %s, got %s", i, paths[i], r.Path)
		}
	}
	if report.Succeeded != 2 || report.Failed != 2 {
		t.Errorf("expected 2 succeeded / 2 failed, got %d / %d", report.Succeeded, report.Failed)
	}
	// The bad file's first line is kept even though the file fails.
	if report.Recorded != 6 {
		t.Errorf("expected 6 recorded, got %d", report.Recorded)
	}

	res := store.Stats("latency", time.Hour)
	if res.Count != 3 || res.Mean != 20 {
		t.Errorf("unexpected latency stats: %+v", res)
	}
	samples, _ := store.Series("latency", time.Hour)
	if samples[0].Tags["method"] != "GET" || samples[1].Tags != nil {
		t.Errorf("unexpected tags: %v / %v", samples[0].Tags, samples[1].Tags)
	}
	if store.SampleCount("bad") != 1 {
		t.Errorf("expected 1 sample kept from bad file, got %d", store.SampleCount("bad"))
	}
}

func TestBatchProcessor_RejectedSamplesDoNotFailFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore()
	bp := &BatchProcessor{Store: store}

	path := writeTestFile(t, dir, "samples.csv", "metric,value\n,1\nok,2\n  ,3\n")
	report := bp.ProcessFiles(context.Background(), []string{path})

	r := report.Files[0]
	if !r.OK() {
		t.Fatalf("expected file to succeed, got error %q", r.Error)
	}
	if r.Recorded != 1 || r.Rejected != 2 {
		t.Errorf("expected 1 recorded / 2 rejected, got %d / %d", r.Recorded, r.Rejected)
	}
}

func TestBatchProcessor_CSVErrors(t *testing.T) {
	dir := t.TempDir()
	bp := &BatchProcessor{Store: NewStore()}

	noHeader := writeTestFile(t, dir, "noheader.csv", "name,amount\nx,1\n")
	badValue := writeTestFile(t, dir, "badvalue.csv", "metric,value\nx,1\nx,abc\n")

	report := bp.ProcessFiles(context.Background(), []string{noHeader, badValue})
	if report.Failed != 2 {
		t.Fatalf("expected both files to fail, got %+v", report)
	}
	if !strings.Contains(report.Files[1].Error, "line 3") {
		t.Errorf("expected line number in error, got %q", report.Files[1].Error)
	}
	if report.Files[1].Recorded != 1 {
		t.Errorf("expected the valid row before the failure to be recorded")
	}
}

func TestBatchProcessor_DeadlineIsPerFileFailure(t *testing.T) {
	dir := t.TempDir()
	store := NewStore()
	bp := &BatchProcessor{Store: store, FileTimeout: time.Minute}

	path := writeTestFile(t, dir, "late.jsonl", `{"metric":"late","value":1}`+"\n")

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	report := bp.ProcessFiles(ctx, []string{path})

	r := report.Files[0]
	if r.OK() || !r.TimedOut {
		t.Errorf("expected a timed out failure, got %+v", r)
	}
	if store.SampleCount("late") != 0 {
		t.Errorf("expected nothing recorded after the deadline")
	}
}

func TestParseTagList(t *testing.T) {
	tags := parseTagList(" a=1; b = 2 ;noeq;=x; ")
	if len(tags) != 2 || tags["a"] != "1" || tags["b"] != "2" {
		t.Errorf("unexpected tags: %v", tags)
	}
	if parseTagList("") != nil {
		t.Error("expected nil for empty tag list")
	}
}
