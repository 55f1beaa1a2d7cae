// Package analytics aggregates cache health: lifetime hit/miss counters,
// rolling latency windows, derived performance gain, and qualitative
// recommendations. It is pure reporting and must never influence what the
// cache stores or serves.
package analytics

import (
	"sync"
	"sync/atomic"
	"time"
)

// windowSize bounds the rolling latency samples per outcome.
const windowSize = 100

// Stats is one observability snapshot. Counter-derived fields come from the
// Recorder; tier occupancy fields are filled in by the cache facade, which
// owns both tiers.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`

	// HitRate is hits/(hits+misses) over the process lifetime.
	HitRate float64 `json:"hit_rate"`

	// AvgHitMS and AvgMissMS average the most recent latency samples.
	AvgHitMS  float64 `json:"avg_hit_ms"`
	AvgMissMS float64 `json:"avg_miss_ms"`

	// PerformanceGain is (AvgMissMS-AvgHitMS)/AvgMissMS: the fraction of
	// latency a hit saves over recomputing.
	PerformanceGain float64 `json:"performance_gain"`

	// Evictions counts capacity-triggered removals. Operator visibility
	// only; eviction is normal behaviour, not an error.
	Evictions int64 `json:"evictions"`

	MemoryEntries  int   `json:"memory_entries"`
	StoreEntries   int   `json:"store_entries"`
	StoreSizeBytes int64 `json:"store_size_bytes"`
	StoreAvailable bool  `json:"store_available"`

	Recommendations []string `json:"recommendations,omitempty"`
}

// Recorder accumulates samples. All methods are safe for concurrent use;
// the counters are atomic and the latency windows take a short mutex.
type Recorder struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	mu          sync.Mutex
	hitLatency  ring
	missLatency ring

	metrics *Metrics // optional prometheus surface
}

// NewRecorder creates a Recorder. metrics may be nil when no prometheus
// surface is wanted.
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{metrics: metrics}
}

// RecordHit notes a cache hit served in elapsed.
func (r *Recorder) RecordHit(elapsed time.Duration) {
	r.hits.Add(1)
	ms := float64(elapsed.Microseconds()) / 1000
	r.mu.Lock()
	r.hitLatency.add(ms)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.observeHit(elapsed)
	}
}

// RecordMiss notes a lookup that fell through to the pipeline. The cost of
// the recomputation is reported separately through RecordMissLatency, since
// it is only known once the pipeline finishes (and never known when the
// pipeline fails).
func (r *Recorder) RecordMiss() {
	r.misses.Add(1)
	if r.metrics != nil {
		r.metrics.observeMiss()
	}
}

// RecordMissLatency notes how long one recomputation took.
func (r *Recorder) RecordMissLatency(elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000
	r.mu.Lock()
	r.missLatency.add(ms)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.observeMissLatency(elapsed)
	}
}

// RecordEvictions notes n capacity-triggered removals.
func (r *Recorder) RecordEvictions(n int) {
	if n <= 0 {
		return
	}
	r.evictions.Add(int64(n))
	if r.metrics != nil {
		r.metrics.observeEvictions(n)
	}
}

// Snapshot derives the counter-based portion of Stats.
func (r *Recorder) Snapshot() Stats {
	hits := r.hits.Load()
	misses := r.misses.Load()

	r.mu.Lock()
	avgHit := r.hitLatency.average()
	avgMiss := r.missLatency.average()
	r.mu.Unlock()

	s := Stats{
		Hits:      hits,
		Misses:    misses,
		AvgHitMS:  avgHit,
		AvgMissMS: avgMiss,
		Evictions: r.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	if avgMiss > 0 {
		s.PerformanceGain = (avgMiss - avgHit) / avgMiss
	}
	return s
}

// ring is a fixed-size rolling window of latency samples.
type ring struct {
	samples [windowSize]float64
	next    int
	filled  int
}

func (w *ring) add(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % windowSize
	if w.filled < windowSize {
		w.filled++
	}
}

func (w *ring) average() float64 {
	if w.filled == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.samples[:w.filled] {
		sum += v
	}
	return sum / float64(w.filled)
}
