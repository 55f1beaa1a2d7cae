package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHitRate(t *testing.T) {
	r := NewRecorder(nil)

	for n := 0; n < 7; n++ {
		r.RecordHit(time.Millisecond)
	}
	for n := 0; n < 3; n++ {
		r.RecordMiss()
		r.RecordMissLatency(100 * time.Millisecond)
	}

	s := r.Snapshot()
	if s.Hits != 7 || s.Misses != 3 {
		t.Fatalf("hits=%d misses=%d", s.Hits, s.Misses)
	}
	if math.Abs(s.HitRate-0.7) > 1e-9 {
		t.Fatalf("hit rate = %v, want 0.7", s.HitRate)
	}
}

func TestPerformanceGain(t *testing.T) {
	r := NewRecorder(nil)

	r.RecordHit(time.Millisecond) // 1ms
	r.RecordMiss()
	r.RecordMissLatency(100 * time.Millisecond) // 100ms

	s := r.Snapshot()
	if s.AvgHitMS != 1 || s.AvgMissMS != 100 {
		t.Fatalf("avgHit=%v avgMiss=%v", s.AvgHitMS, s.AvgMissMS)
	}
	if math.Abs(s.PerformanceGain-0.99) > 1e-9 {
		t.Fatalf("gain = %v, want 0.99", s.PerformanceGain)
	}
}

func TestRollingWindowBounded(t *testing.T) {
	r := NewRecorder(nil)

	// 150 slow hits followed by 100 fast ones: only the last 100 samples
	// may contribute to the average.
	for n := 0; n < 150; n++ {
		r.RecordHit(100 * time.Millisecond)
	}
	for n := 0; n < 100; n++ {
		r.RecordHit(time.Millisecond)
	}

	if avg := r.Snapshot().AvgHitMS; avg != 1 {
		t.Fatalf("avg = %v, want 1 (window should hold only recent samples)", avg)
	}
}

func TestMissCountsWithoutLatencySample(t *testing.T) {
	// A miss whose recomputation never finished still counts against the
	// hit rate, without contributing a latency sample.
	r := NewRecorder(nil)
	r.RecordMiss()

	s := r.Snapshot()
	if s.Misses != 1 || s.HitRate != 0 {
		t.Fatalf("misses=%d hitRate=%v", s.Misses, s.HitRate)
	}
	if s.AvgMissMS != 0 || s.PerformanceGain != 0 {
		t.Fatalf("latency derived from no samples: %+v", s)
	}
}

func TestEmptySnapshot(t *testing.T) {
	s := NewRecorder(nil).Snapshot()
	if s.HitRate != 0 || s.PerformanceGain != 0 || s.AvgHitMS != 0 {
		t.Fatalf("zero recorder produced %+v", s)
	}
}

func TestRecommendations(t *testing.T) {
	tests := []struct {
		name  string
		stats Stats
		want  int
	}{
		{
			name:  "healthy",
			stats: Stats{Hits: 90, Misses: 10, HitRate: 0.9, AvgMissMS: 100, StoreAvailable: true},
			want:  0,
		},
		{
			name:  "low hit rate",
			stats: Stats{Hits: 5, Misses: 15, HitRate: 0.25, StoreAvailable: true},
			want:  1,
		},
		{
			name:  "slow misses",
			stats: Stats{Hits: 90, Misses: 10, HitRate: 0.9, AvgMissMS: 2000, StoreAvailable: true},
			want:  1,
		},
		{
			name:  "oversized store",
			stats: Stats{Hits: 90, Misses: 10, HitRate: 0.9, StoreSizeBytes: 100 << 20, StoreAvailable: true},
			want:  1,
		},
		{
			name:  "store down",
			stats: Stats{Hits: 90, Misses: 10, HitRate: 0.9, StoreAvailable: false},
			want:  1,
		},
		{
			name:  "too little traffic stays quiet on hit rate",
			stats: Stats{Hits: 1, Misses: 3, HitRate: 0.25, StoreAvailable: true},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Recommend(tt.stats, Thresholds{})
			if len(got) != tt.want {
				t.Fatalf("got %d recommendations %v, want %d", len(got), got, tt.want)
			}
		})
	}
}

func TestWindowedHitRate(t *testing.T) {
	base := time.Now()
	samples := []Sample{
		{TakenAt: base, Hits: 100, Misses: 50},
		{TakenAt: base.Add(time.Hour), Hits: 170, Misses: 80},
	}

	rate, ok := WindowedHitRate(samples)
	if !ok {
		t.Fatal("expected a rate")
	}
	// 70 hits and 30 misses inside the window.
	if math.Abs(rate-0.7) > 1e-9 {
		t.Fatalf("rate = %v, want 0.7", rate)
	}

	if _, ok := WindowedHitRate(samples[:1]); ok {
		t.Fatal("single sample cannot yield a rate")
	}
	if _, ok := WindowedHitRate([]Sample{samples[0], samples[0]}); ok {
		t.Fatal("no traffic cannot yield a rate")
	}
}

func TestMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(NewMetrics(reg))

	r.RecordHit(time.Millisecond)
	r.RecordMiss()
	r.RecordMissLatency(10 * time.Millisecond)
	r.RecordEvictions(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"enhancecache_requests_total",
		"enhancecache_hit_duration_seconds",
		"enhancecache_miss_duration_seconds",
		"enhancecache_evictions_total",
	} {
		if !names[want] {
			t.Fatalf("metric %s not gathered (got %v)", want, names)
		}
	}
}
