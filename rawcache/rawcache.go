// Package rawcache caches raw, unprocessed gathered context (project facts,
// documentation, snippets) under a deliberately short TTL. It feeds the
// summarization step that produces long-lived result entries, and serves as
// a fallback that avoids a full re-gather when the result cache misses but
// recently gathered inputs are still fresh.
//
// Raw rows never hold a finished result, so a stale raw row can only leak
// stale inputs, which the summarization step re-validates before reuse.
package rawcache

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/promptpipe/enhancecache/entry"
	"github.com/promptpipe/enhancecache/keys"
	"github.com/promptpipe/enhancecache/store"
)

// DefaultTTL is the fixed raw-context lifetime. Raw inputs go stale faster
// than the judgments derived from them, so this is independent of (and much
// shorter than) the result cache's complexity-scaled TTLs.
const DefaultTTL = 2 * time.Hour

// defaultMemEntries bounds the in-process tier.
const defaultMemEntries = 256

// Payload is the raw gathered material handed in by the pipeline.
type Payload struct {
	Facts    string
	Docs     string
	Snippets string
}

// Cache is the two-tier raw-context cache. A durable hit is promoted into
// the memory tier before being returned, matching the result cache.
type Cache struct {
	mem *ristretto.Cache[string, *entry.RawContext]
	db  *store.Store // nil when running memory-only
	ttl time.Duration

	// ristretto cannot enumerate its contents, so project-signature
	// invalidation keeps its own id index.
	mu    sync.Mutex
	bySig map[string]map[string]struct{}

	nowFunc func() time.Time // for testing; defaults to time.Now
}

// New creates a raw-context cache backed by db. A nil db degrades to the
// memory tier alone. Non-positive ttl falls back to DefaultTTL.
func New(db *store.Store, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	mem, err := ristretto.NewCache(&ristretto.Config[string, *entry.RawContext]{
		NumCounters: defaultMemEntries * 10,
		MaxCost:     defaultMemEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{
		mem:     mem,
		db:      db,
		ttl:     ttl,
		bySig:   make(map[string]map[string]struct{}),
		nowFunc: time.Now,
	}, nil
}

// Get returns the cached raw context for a project signature and framework
// set, checking memory first and promoting a durable hit.
func (c *Cache) Get(ctx context.Context, projectSignature string, frameworks []string) (*entry.RawContext, bool) {
	id := keys.RawKey(projectSignature, frameworks)
	now := c.nowFunc()

	if rc, ok := c.mem.Get(id); ok {
		if rc.Expired(now) {
			c.mem.Del(id)
			return nil, false
		}
		// Copy before touching access fields so concurrent readers never
		// see a row mid-update.
		c.mu.Lock()
		rc.AccessCount++
		rc.LastAccessed = now
		cp := *rc
		c.mu.Unlock()
		return &cp, true
	}

	if c.db == nil {
		return nil, false
	}
	rc, ok := c.db.GetRaw(ctx, id, now)
	if !ok {
		return nil, false
	}
	c.promote(rc, now)
	// The promoted row stays mutable inside the tier; callers get a copy.
	cp := *rc
	return &cp, true
}

// Set stores freshly gathered context under the signature/framework key in
// both tiers and returns a copy of the stored row.
func (c *Cache) Set(ctx context.Context, projectSignature string, frameworks []string, p Payload) *entry.RawContext {
	now := c.nowFunc()
	rc := &entry.RawContext{
		ID:               keys.RawKey(projectSignature, frameworks),
		ProjectSignature: projectSignature,
		Frameworks:       append([]string(nil), frameworks...),
		GatheredFacts:    p.Facts,
		GatheredDocs:     p.Docs,
		GatheredSnippets: p.Snippets,
		CreatedAt:        now,
		ExpiresAt:        now.Add(c.ttl),
		LastAccessed:     now,
	}

	if c.db != nil {
		c.db.PutRaw(ctx, rc)
	}
	c.promote(rc, now)
	cp := *rc
	return &cp
}

// InvalidateProject removes every raw row gathered for the signature from
// both tiers. This is the single explicit invalidation path of the cache;
// the pipeline calls it when a project's dependencies or layout changed.
func (c *Cache) InvalidateProject(ctx context.Context, projectSignature string) int {
	c.mu.Lock()
	ids := c.bySig[projectSignature]
	delete(c.bySig, projectSignature)
	c.mu.Unlock()

	for id := range ids {
		c.mem.Del(id)
	}

	n := len(ids)
	if c.db != nil {
		if removed := c.db.InvalidateSignature(ctx, projectSignature); removed > n {
			n = removed
		}
	}
	return n
}

// Cleanup removes expired raw rows from the durable tier; the memory tier
// expires on its own. Returns the number of durable rows removed.
func (c *Cache) Cleanup(ctx context.Context, now time.Time) int {
	if c.db == nil {
		return 0
	}
	return c.db.DeleteRawExpired(ctx, now)
}

// Close releases the memory tier.
func (c *Cache) Close() {
	c.mem.Close()
}

// promote copies a row into the memory tier with its remaining lifetime.
func (c *Cache) promote(rc *entry.RawContext, now time.Time) {
	remaining := rc.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return
	}
	c.mem.SetWithTTL(rc.ID, rc, 1, remaining)
	c.mem.Wait()

	c.mu.Lock()
	ids, ok := c.bySig[rc.ProjectSignature]
	if !ok {
		ids = make(map[string]struct{})
		c.bySig[rc.ProjectSignature] = ids
	}
	ids[rc.ID] = struct{}{}
	c.mu.Unlock()
}
