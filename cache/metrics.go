package cache

import (
	"math"
	"sort"
	"sync"
	"time"
)

// sampleWindowSize bounds the response-time window. When full, the oldest
// sample is dropped before the newest is appended.
const sampleWindowSize = 1000

// Metrics is a point-in-time snapshot of a Recorder. Times are milliseconds.
type Metrics struct {
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	HitRate         float64 `json:"hit_rate"`
	AvgResponseTime float64 `json:"avg_response_time"`
	P95             float64 `json:"p95"`
	P99             float64 `json:"p99"`
	SampleCount     int     `json:"sample_count"`
}

// Recorder tracks cache hit/miss counters and a bounded rolling window of
// response-time samples. All methods are safe for concurrent use; every
// mutation and the snapshot run under one mutex so the window length and
// counters can never be observed mid-update.
type Recorder struct {
	mu      sync.Mutex
	hits    uint64
	misses  uint64
	samples []float64
}

// NewRecorder returns a Recorder with an empty sample window.
func NewRecorder() *Recorder {
	return &Recorder{samples: make([]float64, 0, sampleWindowSize)}
}

// RecordHit counts a cache hit and appends its latency to the window.
func (r *Recorder) RecordHit(latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits++
	r.appendSample(durationMillis(latency))
}

// RecordMiss counts a cache miss.
func (r *Recorder) RecordMiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses++
}

// RecordResponseTime appends a latency sample without touching the hit/miss
// counters. Used for miss paths where the fetch latency is what matters.
func (r *Recorder) RecordResponseTime(latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendSample(durationMillis(latency))
}

// Snapshot computes the current counters, hit rate, average, and percentiles.
// Percentiles over an empty window are 0, not an error.
func (r *Recorder) Snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{
		Hits:        r.hits,
		Misses:      r.misses,
		SampleCount: len(r.samples),
	}

	if total := r.hits + r.misses; total > 0 {
		m.HitRate = float64(r.hits) / float64(total)
	}

	if len(r.samples) == 0 {
		return m
	}

	var sum float64
	sorted := make([]float64, len(r.samples))
	copy(sorted, r.samples)
	for _, s := range sorted {
		sum += s
	}
	sort.Float64s(sorted)

	m.AvgResponseTime = sum / float64(len(sorted))
	m.P95 = sorted[percentileIndex(len(sorted), 0.95)]
	m.P99 = sorted[percentileIndex(len(sorted), 0.99)]
	return m
}

// Reset atomically zeroes the counters and clears the sample window.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = 0
	r.misses = 0
	r.samples = r.samples[:0]
}

// appendSample enforces FIFO eviction at the window bound. Callers must hold
// r.mu.
func (r *Recorder) appendSample(ms float64) {
	if len(r.samples) == sampleWindowSize {
		copy(r.samples, r.samples[1:])
		r.samples = r.samples[:sampleWindowSize-1]
	}
	r.samples = append(r.samples, ms)
}

// percentileIndex returns floor(n*q) clamped to the last valid index.
func percentileIndex(n int, q float64) int {
	idx := int(math.Floor(float64(n) * q))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
