package analytics

import (
	"fmt"
	"time"
)

// Thresholds control when Recommend flags an issue. The zero value is
// replaced by DefaultThresholds.
type Thresholds struct {
	// MinHitRate is the hit rate below which the keying/TTL setup is
	// suspect.
	MinHitRate float64

	// MaxAvgMissMS is the average recomputation latency above which a
	// larger memory tier would pay off.
	MaxAvgMissMS float64

	// MaxStoreBytes is the durable-store size above which cleanup should
	// run more aggressively.
	MaxStoreBytes int64
}

// DefaultThresholds returns the recommended production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHitRate:    0.70,
		MaxAvgMissMS:  500,
		MaxStoreBytes: 50 << 20,
	}
}

// minSamples suppresses recommendations until enough traffic has been seen
// for the rates to mean anything.
const minSamples = 10

// Recommend derives qualitative advice from a snapshot. Purely advisory;
// nothing here feeds back into cache behaviour.
func Recommend(s Stats, t Thresholds) []string {
	def := DefaultThresholds()
	if t.MinHitRate <= 0 {
		t.MinHitRate = def.MinHitRate
	}
	if t.MaxAvgMissMS <= 0 {
		t.MaxAvgMissMS = def.MaxAvgMissMS
	}
	if t.MaxStoreBytes <= 0 {
		t.MaxStoreBytes = def.MaxStoreBytes
	}

	var out []string
	if s.Hits+s.Misses >= minSamples && s.HitRate < t.MinHitRate {
		out = append(out, fmt.Sprintf(
			"hit rate %.0f%% is below %.0f%%: review TTLs and key normalization (unstable context fields fragment keys)",
			s.HitRate*100, t.MinHitRate*100))
	}
	if s.AvgMissMS > t.MaxAvgMissMS {
		out = append(out, fmt.Sprintf(
			"average miss latency %.0fms: results are expensive to recompute, consider a larger memory tier",
			s.AvgMissMS))
	}
	if s.StoreSizeBytes > t.MaxStoreBytes {
		out = append(out, fmt.Sprintf(
			"durable store holds %dMB: run cleanup more aggressively or shorten TTLs",
			s.StoreSizeBytes>>20))
	}
	if !s.StoreAvailable {
		out = append(out, "durable tier unavailable: serving from memory only, entries will not survive a restart")
	}
	return out
}

// Sample is one point of a persisted counter series, used for windowed
// rates. Hits and Misses are lifetime-monotonic values at TakenAt.
type Sample struct {
	TakenAt time.Time
	Hits    int64
	Misses  int64
}

// WindowedHitRate computes the hit rate across a chronological series of
// samples: the delta between the first and last point. The boolean is false
// when the series is too short or saw no traffic in the window.
func WindowedHitRate(samples []Sample) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	first, last := samples[0], samples[len(samples)-1]
	hits := last.Hits - first.Hits
	total := hits + (last.Misses - first.Misses)
	if total <= 0 {
		return 0, false
	}
	return float64(hits) / float64(total), true
}
