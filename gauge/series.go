package gauge

import "time"

const defaultMaxSamples = 100000

// ringBuffer is a bounded circular buffer that grows on demand up to its
// capacity, then overwrites the oldest item. It is not safe for concurrent
// use; the Store serializes all access.
type ringBuffer[T any] struct {
	data     []T
	start    int
	size     int
	capacity int
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity <= 0 {
		capacity = defaultMaxSamples
	}
	initial := 16
	if initial > capacity {
		initial = capacity
	}
	return &ringBuffer[T]{
		data:     make([]T, initial),
		capacity: capacity,
	}
}

// push appends an item and reports whether an old item was overwritten.
func (rb *ringBuffer[T]) push(item T) bool {
	if rb.size == len(rb.data) && len(rb.data) < rb.capacity {
		rb.grow()
	}
	if rb.size < len(rb.data) {
		rb.data[(rb.start+rb.size)%len(rb.data)] = item
		rb.size++
		return false
	}
	// Full: overwrite the oldest slot and advance.
	rb.data[rb.start] = item
	rb.start = (rb.start + 1) % len(rb.data)
	return true
}

func (rb *ringBuffer[T]) grow() {
	n := len(rb.data) * 2
	if n == 0 {
		n = 16
	}
	if n > rb.capacity {
		n = rb.capacity
	}
	data := make([]T, n)
	rb.copyTo(data)
	rb.data = data
	rb.start = 0
}

func (rb *ringBuffer[T]) len() int {
	return rb.size
}

// at returns the i-th item counted from the oldest.
func (rb *ringBuffer[T]) at(i int) T {
	return rb.data[(rb.start+i)%len(rb.data)]
}

// last returns the newest item.
func (rb *ringBuffer[T]) last() (T, bool) {
	if rb.size == 0 {
		var zero T
		return zero, false
	}
	return rb.at(rb.size - 1), true
}

// copyTo copies the items oldest-first into dst and returns the count.
func (rb *ringBuffer[T]) copyTo(dst []T) int {
	if rb.size == 0 {
		return 0
	}
	end := rb.start + rb.size
	if end <= len(rb.data) {
		return copy(dst, rb.data[rb.start:end])
	}
	n := copy(dst, rb.data[rb.start:])
	return n + copy(dst[n:], rb.data[:end-len(rb.data)])
}

// items returns all items ordered oldest to newest.
func (rb *ringBuffer[T]) items() []T {
	out := make([]T, rb.size)
	rb.copyTo(out)
	return out
}

// forEach iterates oldest to newest until fn returns false.
func (rb *ringBuffer[T]) forEach(fn func(item T) bool) {
	for i := 0; i < rb.size; i++ {
		if !fn(rb.at(i)) {
			return
		}
	}
}

// retain keeps only the items matching keep, preserving order, and returns
// the number removed.
func (rb *ringBuffer[T]) retain(keep func(item T) bool) int {
	kept := make([]T, 0, rb.size)
	rb.forEach(func(item T) bool {
		if keep(item) {
			kept = append(kept, item)
		}
		return true
	})
	removed := rb.size - len(kept)
	if removed == 0 {
		return 0
	}
	rb.reset()
	for _, item := range kept {
		rb.push(item)
	}
	return removed
}

func (rb *ringBuffer[T]) reset() {
	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.start = 0
	rb.size = 0
}

// series holds the samples of one metric in insertion order.
type series struct {
	name    string
	samples *ringBuffer[Sample]
	dropped int
}

func newSeries(name string, capacity int) *series {
	return &series{
		name:    name,
		samples: newRingBuffer[Sample](capacity),
	}
}

func (s *series) append(sample Sample) {
	if s.samples.push(sample) {
		s.dropped++
	}
}

// since returns copies of the samples with timestamp >= cutoff.
func (s *series) since(cutoff time.Time) []Sample {
	var out []Sample
	s.samples.forEach(func(sample Sample) bool {
		if !sample.Timestamp.Before(cutoff) {
			out = append(out, sample.clone())
		}
		return true
	})
	return out
}

// pruneBefore drops samples strictly older than cutoff.
func (s *series) pruneBefore(cutoff time.Time) int {
	return s.samples.retain(func(sample Sample) bool {
		return !sample.Timestamp.Before(cutoff)
	})
}
