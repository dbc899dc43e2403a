package gauge

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	Path     string        `json:"path"`
	Recorded int           `json:"recorded"`
	Rejected int           `json:"rejected"`
	Error    string        `json:"error,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the file was processed to the end.
func (r FileResult) OK() bool {
	return r.Error == ""
}

// BatchReport aggregates the outcome of a ProcessFiles call. Files appear
// in the order they were given.
type BatchReport struct {
	Files     []FileResult `json:"files"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Recorded  int          `json:"recorded"`
	Rejected  int          `json:"rejected"`
}

// BatchProcessor ingests metric files into a Store with bounded
// concurrency. Supported formats, chosen by extension:
//
//	.csv             header "metric,value[,tags]" with tags as "k=v;k2=v2"
//	anything else    JSON lines of {"metric": ..., "value": ..., "tags": {...}}
type BatchProcessor struct {
	Store       *Store
	Workers     int
	FileTimeout time.Duration
}

// ProcessFiles ingests every path. A file that fails to open, parse or
// finish within FileTimeout is reported as failed; it never stops the
// other files. Samples recorded before a failure stay recorded.
func (b *BatchProcessor) ProcessFiles(ctx context.Context, paths []string) BatchReport {
	workers := b.Workers
	if workers <= 0 {
		workers = 4
	}

	results := make([]FileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			results[i] = b.processFile(gctx, path)
			// Per-file failures are data, not group errors.
			return nil
		})
	}
	g.Wait()

	report := BatchReport{Files: results}
	for _, r := range results {
		if r.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Recorded += r.Recorded
		report.Rejected += r.Rejected
	}
	return report
}

func (b *BatchProcessor) processFile(ctx context.Context, path string) FileResult {
	start := time.Now()
	res := FileResult{Path: path}

	if b.FileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.FileTimeout)
		defer cancel()
	}

	var counts ingestCounts
	done := make(chan error, 1)
	go func() {
		done <- b.ingestFile(ctx, path, &counts)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		// The reader stops recording at its next line once ctx is done.
		err = ctx.Err()
	}
	res.Recorded = int(counts.recorded.Load())
	res.Rejected = int(counts.rejected.Load())
	if err != nil {
		res.Error = err.Error()
		res.TimedOut = errors.Is(err, context.DeadlineExceeded)
	}
	res.Duration = time.Since(start)
	return res
}

// ingestCounts is shared with the reader goroutine so a file that times
// out still reports what it recorded.
type ingestCounts struct {
	recorded atomic.Int64
	rejected atomic.Int64
}

func (b *BatchProcessor) ingestFile(ctx context.Context, path string, counts *ingestCounts) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	record := func(name string, value float64, tags map[string]string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Store.Record(name, value, tags); err != nil {
			counts.rejected.Add(1)
			return nil
		}
		counts.recorded.Add(1)
		return nil
	}

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return readCSVSamples(f, record)
	}
	return readJSONLines(f, record)
}

type sampleLine struct {
	Metric string            `json:"metric"`
	Value  *float64          `json:"value"`
	Tags   map[string]string `json:"tags"`
}

type recordFunc func(name string, value float64, tags map[string]string) error

func readJSONLines(r io.Reader, record recordFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var sl sampleLine
		if err := json.Unmarshal([]byte(line), &sl); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if sl.Value == nil {
			return fmt.Errorf("line %d: missing value", lineNo)
		}
		if err := record(sl.Metric, *sl.Value, sl.Tags); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func readCSVSamples(r io.Reader, record recordFunc) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	metricCol, valueCol, tagsCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "metric":
			metricCol = i
		case "value":
			valueCol = i
		case "tags":
			tagsCol = i
		}
	}
	if metricCol < 0 || valueCol < 0 {
		return errors.New("header must contain metric and value columns")
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line, _ := cr.FieldPos(0)
		if metricCol >= len(row) || valueCol >= len(row) {
			return fmt.Errorf("line %d: expected at least %d fields", line, max(metricCol, valueCol)+1)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[valueCol]), 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		var tags map[string]string
		if tagsCol >= 0 && tagsCol < len(row) {
			tags = parseTagList(row[tagsCol])
		}
		if err := record(row[metricCol], value, tags); err != nil {
			return err
		}
	}
}

// parseTagList parses "k=v;k2=v2". Entries without '=' are ignored.
func parseTagList(s string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	tags := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			tags[k] = strings.TrimSpace(v)
		}
	}
	return tags
}
