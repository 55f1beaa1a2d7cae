package enhancecache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/promptpipe/enhancecache/analytics"
	"github.com/promptpipe/enhancecache/lifecycle"
	"github.com/promptpipe/enhancecache/memtier"
	"github.com/promptpipe/enhancecache/rawcache"
	"github.com/promptpipe/enhancecache/store"
	"github.com/promptpipe/enhancecache/tracing"
)

// cfg holds the internal configuration assembled via functional options.
type cfg struct {
	capacity      int
	defaultTTL    time.Duration
	maxAge        time.Duration
	rawTTL        time.Duration
	storeTimeout  time.Duration
	snapshotEvery time.Duration
	snapshotKeep  time.Duration
	thresholds    analytics.Thresholds
	log           logrus.FieldLogger
	registerer    prometheus.Registerer
	trace         *tracing.Config
}

func defaultCfg() cfg {
	return cfg{
		capacity:     memtier.DefaultCapacity,
		defaultTTL:   lifecycle.DefaultTTL,
		maxAge:       lifecycle.DefaultMaxAge,
		rawTTL:       rawcache.DefaultTTL,
		storeTimeout: store.DefaultTimeout,
		snapshotKeep: 7 * 24 * time.Hour,
		thresholds:   analytics.DefaultThresholds(),
		log:          logrus.StandardLogger(),
	}
}

// Option configures a Cache.
type Option func(*cfg)

// WithCapacity bounds the memory tier's entry count.
func WithCapacity(n int) Option {
	return func(c *cfg) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithDefaultTTL sets the TTL a medium-complexity entry receives. Simple
// entries get half of it, complex entries twice, all capped by the max age.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *cfg) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithMaxAge caps every entry's TTL regardless of complexity class.
func WithMaxAge(d time.Duration) Option {
	return func(c *cfg) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithRawTTL sets the (deliberately short) lifetime of raw gathered context.
func WithRawTTL(d time.Duration) Option {
	return func(c *cfg) {
		if d > 0 {
			c.rawTTL = d
		}
	}
}

// WithStoreTimeout bounds every durable-tier operation; past the deadline
// the operation degrades to a miss so the request path never stalls.
func WithStoreTimeout(d time.Duration) Option {
	return func(c *cfg) {
		if d > 0 {
			c.storeTimeout = d
		}
	}
}

// WithSnapshots persists a periodic analytics sample into the durable tier,
// enabling windowed hit-rate queries. Disabled when never called.
func WithSnapshots(every time.Duration) Option {
	return func(c *cfg) {
		if every > 0 {
			c.snapshotEvery = every
		}
	}
}

// WithThresholds overrides the recommendation thresholds.
func WithThresholds(t analytics.Thresholds) Option {
	return func(c *cfg) { c.thresholds = t }
}

// WithLogger sets the logger for degraded-mode warnings.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *cfg) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics registers prometheus metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them through promhttp.Handler.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *cfg) { c.registerer = reg }
}

// WithTracing enables OpenTelemetry spans around cache operations.
func WithTracing(tc *tracing.Config) Option {
	return func(c *cfg) { c.trace = tc }
}
