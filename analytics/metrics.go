package analytics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the prometheus surface of the cache. All metrics live under
// the enhancecache namespace.
type Metrics struct {
	requests    *prometheus.CounterVec
	hitLatency  prometheus.Histogram
	missLatency prometheus.Histogram
	evictions   prometheus.Counter
}

// NewMetrics registers the cache metrics with reg. A nil reg uses the
// default registerer, matching promhttp.Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enhancecache",
			Name:      "requests_total",
			Help:      "Cache lookups by outcome.",
		}, []string{"result"}),
		hitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "enhancecache",
			Name:      "hit_duration_seconds",
			Help:      "Latency of lookups served from cache.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		missLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "enhancecache",
			Name:      "miss_duration_seconds",
			Help:      "Latency of lookups that fell through to the pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enhancecache",
			Name:      "evictions_total",
			Help:      "Entries removed by capacity-triggered eviction.",
		}),
	}
	reg.MustRegister(m.requests, m.hitLatency, m.missLatency, m.evictions)
	return m
}

// Handler returns an http.Handler serving the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) observeHit(elapsed time.Duration) {
	m.requests.WithLabelValues("hit").Inc()
	m.hitLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) observeMiss() {
	m.requests.WithLabelValues("miss").Inc()
}

func (m *Metrics) observeMissLatency(elapsed time.Duration) {
	m.missLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) observeEvictions(n int) {
	m.evictions.Add(float64(n))
}
