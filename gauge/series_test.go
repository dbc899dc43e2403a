package gauge

import (
	"testing"
	"time"
)

func TestRingBuffer_PushAndLen(t *testing.T) {
	rb := newRingBuffer[int](5)
	if rb.len() != 0 {
		t.Fatalf("expected len 0, got %d", rb.len())
	}
	rb.push(1)
	rb.push(2)
	rb.push(3)
	if rb.len() != 3 {
		t.Fatalf("expected len 3, got %d", rb.len())
	}
}

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	rb := newRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.push(i)
	}

	all := rb.items()
	expected := []int{3, 4, 5}
	if len(all) != len(expected) {
		t.Fatalf("expected %d items, got %d", len(expected), len(all))
	}
	for i, v := range expected {
		if all[i] != v {
			t.Errorf("index %d: expected %d, got %d", i, v, all[i])
		}
	}
	if last, _ := rb.last(); last != 5 {
		t.Errorf("expected last 5, got %d", last)
	}
}

func TestRingBuffer_GrowsPastInitialSize(t *testing.T) {
	rb := newRingBuffer[int](100)
	for i := 0; i < 40; i++ {
		rb.push(i)
	}
	all := rb.items()
	if len(all) != 40 {
		t.Fatalf("expected 40 items, got %d", len(all))
	}
	for i, v := range all {
		if v != i {
			t.Fatalf("index %d: expected %d, got %d", i, i, v)
		}
	}
}

func TestRingBuffer_Retain(t *testing.T) {
	rb := newRingBuffer[int](4)
	for i := 1; i <= 6; i++ {
		rb.push(i) // wraps: holds 3,4,5,6
	}

	removed := rb.retain(func(v int) bool { return v%2 == 0 })
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	all := rb.items()
	if len(all) != 2 || all[0] != 4 || all[1] != 6 {
		t.Fatalf("unexpected items after retain: %v", all)
	}

	if removed := rb.retain(func(v int) bool { return true }); removed != 0 {
		t.Errorf("expected no-op retain, removed %d", removed)
	}
}

func TestSeries_SinceAndPrune(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sr := newSeries("cpu", 10)
	for i := 0; i < 5; i++ {
		sr.append(Sample{Metric: "cpu", Timestamp: base.Add(time.Duration(i) * time.Hour), Value: float64(i)})
	}

	got := sr.since(base.Add(2 * time.Hour))
	if len(got) != 3 {
		t.Fatalf("expected 3 samples at or after cutoff, got %d", len(got))
	}
	if got[0].Value != 2 {
		t.Errorf("expected boundary sample to be included, got first value %v", got[0].Value)
	}

	if removed := sr.pruneBefore(base.Add(2 * time.Hour)); removed != 2 {
		t.Errorf("expected 2 pruned, got %d", removed)
	}
	if sr.samples.len() != 3 {
		t.Errorf("expected 3 remaining, got %d", sr.samples.len())
	}
}

func TestSeries_CountsDropped(t *testing.T) {
	sr := newSeries("m", 2)
	for i := 0; i < 5; i++ {
		sr.append(Sample{Metric: "m", Value: float64(i)})
	}
	if sr.dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", sr.dropped)
	}
}
