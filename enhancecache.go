// Package enhancecache caches the results of an expensive prompt-enhancement
// pipeline behind a two-tier store: a capacity-bound in-process tier for
// sub-millisecond hits, backed by an embedded SQLite tier that survives
// restarts. A separate short-TTL cache holds raw gathered context so a
// result miss does not always force a full re-gather.
//
// The cache is an optimization, never a dependency: every internal failure
// degrades to "entry absent" or "write dropped", and no error originating
// here reaches the caller's request path.
package enhancecache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/promptpipe/enhancecache/analytics"
	"github.com/promptpipe/enhancecache/entry"
	"github.com/promptpipe/enhancecache/keys"
	"github.com/promptpipe/enhancecache/lifecycle"
	"github.com/promptpipe/enhancecache/memtier"
	"github.com/promptpipe/enhancecache/rawcache"
	"github.com/promptpipe/enhancecache/store"
	"github.com/promptpipe/enhancecache/tracing"
)

// Result is what the pipeline produced for one request, handed to Store.
type Result struct {
	Output       string
	QualityScore float64
	Complexity   entry.Complexity

	// ComputeTime is how long the pipeline took; it becomes the miss
	// latency sample and is kept in the entry's metadata.
	ComputeTime time.Duration
}

// ComputeFunc produces a result on a full cache miss.
type ComputeFunc func(ctx context.Context) (Result, error)

// GatherFunc collects raw project context when the raw cache misses.
type GatherFunc func(ctx context.Context) (rawcache.Payload, error)

// call deduplicates concurrent Fetch computations for the same key.
type call struct {
	wg  sync.WaitGroup
	out string
	err error
}

// Cache is the process-wide result cache. Construct one with New and pass
// it to every component that needs it; all methods are safe for concurrent
// use.
type Cache struct {
	cfg cfg

	mem *memtier.Tier
	db  *store.Store // nil when running memory-only
	raw *rawcache.Cache

	policy lifecycle.Policy
	rec    *analytics.Recorder

	mu    sync.Mutex
	loads map[string]*call

	touches       chan string
	stopTouch     chan struct{}
	stopSnapshots chan struct{}
	closeOnce     sync.Once
}

// New opens the cache. dbPath is the SQLite file backing the durable tier;
// an empty path, or a file that cannot be opened, degrades to the memory
// tier alone (logged, not fatal: cache unavailability must never block the
// pipeline).
func New(dbPath string, opts ...Option) (*Cache, error) {
	c := &Cache{
		cfg:   defaultCfg(),
		loads: make(map[string]*call),
	}
	for _, o := range opts {
		o(&c.cfg)
	}

	if dbPath != "" {
		db, err := store.Open(dbPath,
			store.WithTimeout(c.cfg.storeTimeout),
			store.WithLogger(c.cfg.log),
		)
		if err != nil {
			c.cfg.log.WithError(err).Warn("durable tier unavailable, running memory-only")
		} else {
			c.db = db
		}
	}

	raw, err := rawcache.New(c.db, c.cfg.rawTTL)
	if err != nil {
		if c.db != nil {
			_ = c.db.Close()
		}
		return nil, err
	}
	c.raw = raw

	c.mem = memtier.New(c.cfg.capacity)
	c.policy = lifecycle.NewPolicy(c.cfg.defaultTTL, c.cfg.maxAge)

	var metrics *analytics.Metrics
	if c.cfg.registerer != nil {
		metrics = analytics.NewMetrics(c.cfg.registerer)
	}
	c.rec = analytics.NewRecorder(metrics)

	if c.db != nil {
		c.touches = make(chan string, 256)
		c.stopTouch = make(chan struct{})
		go c.touchLoop()
	}

	if c.cfg.snapshotEvery > 0 && c.db != nil {
		c.stopSnapshots = make(chan struct{})
		go c.snapshotLoop()
	}
	return c, nil
}

// Close stops background work and releases both tiers.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.stopTouch != nil {
			close(c.stopTouch)
		}
		if c.stopSnapshots != nil {
			close(c.stopSnapshots)
		}
		c.raw.Close()
		if c.db != nil {
			err = c.db.Close()
		}
	})
	return err
}

// Lookup returns the cached entry for a request, checking the memory tier
// first and promoting a durable hit. A key-derivation failure or any
// internal error reports a miss; Lookup never fails the caller.
func (c *Cache) Lookup(ctx context.Context, input string, kctx keys.Context, det keys.Detection) (*entry.Entry, bool) {
	key, err := keys.Derive(input, kctx, det)
	if err != nil {
		c.cfg.log.WithError(err).Debug("key derivation failed, bypassing cache")
		return nil, false
	}
	return c.lookupKey(ctx, key)
}

func (c *Cache) lookupKey(ctx context.Context, key string) (*entry.Entry, bool) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, c.cfg.trace, "lookup", attribute.String("cache.key", key))
	defer span.End()

	if e, ok := c.mem.Get(key); ok {
		c.queueTouch(key)
		c.rec.RecordHit(time.Since(start))
		tracing.Hit(span, "memory")
		return e, true
	}

	if c.db != nil {
		if e, ok := c.db.GetEntry(ctx, key, time.Now()); ok {
			e.HitCount++
			c.queueTouch(key)
			cp := *e // promotion shares the row with the tier
			c.rec.RecordEvictions(c.mem.Put(e))
			c.rec.RecordHit(time.Since(start))
			tracing.Hit(span, "durable")
			return &cp, true
		}
	}

	c.rec.RecordMiss()
	tracing.Miss(span)
	return nil, false
}

// Store caches a freshly computed result. The TTL scales with the result's
// complexity class; the computation time is recorded as the miss latency
// sample. Failures are silently dropped.
func (c *Cache) Store(ctx context.Context, input string, kctx keys.Context, det keys.Detection, res Result) {
	key, err := keys.Derive(input, kctx, det)
	if err != nil {
		c.cfg.log.WithError(err).Debug("key derivation failed, result not cached")
		return
	}
	snapshot, err := keys.Snapshot(kctx)
	if err != nil {
		snapshot = "{}"
	}

	ctx, span := tracing.Start(ctx, c.cfg.trace, "store", attribute.String("cache.key", key))
	defer span.End()

	class := entry.ParseComplexity(string(res.Complexity))
	e := entry.New(key, input, res.Output, snapshot, time.Now(), c.policy.TTLFor(class))
	e.QualityScore = res.QualityScore
	e.Metadata = entry.Metadata{
		Complexity: class,
		Categories: det.Categories,
		ComputeMS:  res.ComputeTime.Milliseconds(),
	}

	if c.db != nil {
		c.db.PutEntry(ctx, e)
	}
	c.rec.RecordEvictions(c.mem.Put(e))
	c.rec.RecordMissLatency(res.ComputeTime)
}

// Fetch is the lookup-or-compute convenience: on a full miss it invokes
// compute, caches the result, and returns its output. Concurrent Fetch
// calls for the same key share one computation. A compute error is the
// pipeline's to handle and is returned as-is; nothing is cached for it.
func (c *Cache) Fetch(ctx context.Context, input string, kctx keys.Context, det keys.Detection, compute ComputeFunc) (string, error) {
	key, err := keys.Derive(input, kctx, det)
	if err != nil {
		// Cache bypass: compute without caching.
		res, cerr := compute(ctx)
		return res.Output, cerr
	}

	if e, ok := c.lookupKey(ctx, key); ok {
		return e.ProducedResult, nil
	}

	c.mu.Lock()
	if inflight, ok := c.loads[key]; ok {
		c.mu.Unlock()
		inflight.wg.Wait()
		return inflight.out, inflight.err
	}
	cl := &call{}
	cl.wg.Add(1)
	c.loads[key] = cl
	c.mu.Unlock()

	res, err := compute(ctx)
	if err == nil {
		c.Store(ctx, input, kctx, det, res)
		cl.out = res.Output
	}
	cl.err = err
	cl.wg.Done()

	c.mu.Lock()
	delete(c.loads, key)
	c.mu.Unlock()

	return cl.out, cl.err
}

// RawContext returns the cached raw gathered context for a project, calling
// gather (and caching its payload) on a miss. A gather error belongs to the
// pipeline and is returned unchanged.
func (c *Cache) RawContext(ctx context.Context, projectSignature string, frameworks []string, gather GatherFunc) (*entry.RawContext, error) {
	if rc, ok := c.raw.Get(ctx, projectSignature, frameworks); ok {
		return rc, nil
	}
	p, err := gather(ctx)
	if err != nil {
		return nil, err
	}
	return c.raw.Set(ctx, projectSignature, frameworks, p), nil
}

// InvalidateProject drops every raw-context row gathered for the project.
// The pipeline calls this when it detects the project's dependencies or
// structure changed.
func (c *Cache) InvalidateProject(ctx context.Context, projectSignature string) int {
	return c.raw.InvalidateProject(ctx, projectSignature)
}

// Invalidate removes entries from the result cache. With a pattern, every
// entry whose key or original input contains it is dropped from both tiers;
// with an empty pattern only expired entries are reclaimed. Returns the
// number of durable rows removed (memory rows when running memory-only).
func (c *Cache) Invalidate(ctx context.Context, pattern string) int {
	ctx, span := tracing.Start(ctx, c.cfg.trace, "invalidate")
	defer span.End()

	now := time.Now()
	if pattern == "" {
		memRemoved := c.mem.Sweep(now)
		c.raw.Cleanup(ctx, now)
		if c.db == nil {
			return memRemoved
		}
		return c.db.DeleteExpired(ctx, now)
	}

	memRemoved := c.mem.DeleteMatching(pattern)
	if c.db == nil {
		return memRemoved
	}
	return c.db.DeleteMatching(ctx, pattern)
}

// Stats returns the current analytics snapshot, including qualitative
// recommendations. Misses count every Lookup or Fetch that fell through to
// the pipeline, whether or not a result was stored afterwards; AvgMissMS
// averages the compute times reported through Store. Reporting only; it
// never changes cache behaviour.
func (c *Cache) Stats(ctx context.Context) analytics.Stats {
	s := c.rec.Snapshot()
	s.MemoryEntries = c.mem.Len()
	if c.db != nil {
		s.StoreEntries = c.db.EntryCount(ctx)
		s.StoreSizeBytes = c.db.TotalSize(ctx)
		s.StoreAvailable = c.db.Available()
	}
	s.Recommendations = analytics.Recommend(s, c.cfg.thresholds)
	return s
}

// WindowedHitRate computes the hit rate over the trailing window from the
// persisted snapshot series. The boolean is false when too few snapshots
// cover the window (snapshots disabled, store down, or not enough uptime).
func (c *Cache) WindowedHitRate(ctx context.Context, window time.Duration) (float64, bool) {
	if c.db == nil {
		return 0, false
	}
	points := c.db.SnapshotsSince(ctx, time.Now().Add(-window))
	samples := make([]analytics.Sample, len(points))
	for i, p := range points {
		samples[i] = analytics.Sample{TakenAt: p.TakenAt, Hits: p.Hits, Misses: p.Misses}
	}
	return analytics.WindowedHitRate(samples)
}

// TopCategories reports the most frequent detection categories across the
// durable tier, for operator dashboards.
func (c *Cache) TopCategories(ctx context.Context, limit int) []store.FieldCount {
	if c.db == nil {
		return nil
	}
	return c.db.TopCategories(ctx, limit)
}

// queueTouch hands a persisted hit-count bump to the background worker so a
// memory-tier hit never waits on a SQLite write. Dropped when the queue is
// full; a lost touch only skews eviction ranking.
func (c *Cache) queueTouch(key string) {
	if c.touches == nil {
		return
	}
	select {
	case c.touches <- key:
	default:
	}
}

func (c *Cache) touchLoop() {
	for {
		select {
		case <-c.stopTouch:
			return
		case key := <-c.touches:
			c.db.Touch(context.Background(), key)
		}
	}
}

// snapshotLoop periodically persists analytics samples and prunes old ones
// so windowed queries stay answerable across restarts.
func (c *Cache) snapshotLoop() {
	ticker := time.NewTicker(c.cfg.snapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSnapshots:
			return
		case now := <-ticker.C:
			ctx := context.Background()
			s := c.rec.Snapshot()
			c.db.AppendSnapshot(ctx, store.StatPoint{
				TakenAt:    now,
				Hits:       s.Hits,
				Misses:     s.Misses,
				AvgHitMS:   s.AvgHitMS,
				AvgMissMS:  s.AvgMissMS,
				EntryCount: c.db.EntryCount(ctx),
				TotalSize:  c.db.TotalSize(ctx),
			})
			c.db.PruneSnapshots(ctx, now.Add(-c.cfg.snapshotKeep))
		}
	}
}
