// Package memtier implements the in-process tier of the result cache: a
// capacity-bound map holding the hottest entries for near-zero-latency
// lookup. Expiry is lazy, eviction is least-frequently-used and runs in
// batches so a full sort is paid only when the tier overflows.
package memtier

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/promptpipe/enhancecache/entry"
)

// DefaultCapacity bounds the tier when no capacity is configured.
const DefaultCapacity = 1000

// sweepEvery is the number of Puts between opportunistic expiry sweeps.
const sweepEvery = 128

// Tier is the memory tier. All methods are safe for concurrent use; the
// map is guarded by a single mutex since every critical section is a short
// map operation.
type Tier struct {
	mu             sync.Mutex
	entries        map[string]*entry.Entry
	capacity       int
	putsSinceSweep int
	nowFunc        func() time.Time // for testing; defaults to time.Now
}

// New creates a Tier bounded at capacity entries. Non-positive capacities
// fall back to DefaultCapacity.
func New(capacity int) *Tier {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tier{
		entries:  make(map[string]*entry.Entry),
		capacity: capacity,
		nowFunc:  time.Now,
	}
}

// Get returns the entry for key. An expired entry is reported absent but
// not deleted; the opportunistic sweep reclaims it later. On a hit the
// entry's hit count is incremented.
func (t *Tier) Get(key string) (*entry.Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.Expired(t.nowFunc()) {
		return nil, false
	}
	e.HitCount++
	// Hand out a copy; the stored row keeps accumulating hits.
	cp := *e
	return &cp, true
}

// Peek returns the entry for key without counting a hit. Expired entries
// are reported absent.
func (t *Tier) Peek(key string) (*entry.Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.Expired(t.nowFunc()) {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Put inserts or replaces an entry. When the tier exceeds its capacity the
// bottom 20% of entries ranked by ascending hit count (ties broken by
// oldest creation time) are dropped in one batch; the number evicted is
// returned so the caller can surface it through analytics.
func (t *Tier) Put(e *entry.Entry) (evicted int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[e.Key] = e

	t.putsSinceSweep++
	if t.putsSinceSweep >= sweepEvery {
		t.putsSinceSweep = 0
		t.sweepLocked(t.nowFunc())
	}

	if len(t.entries) > t.capacity {
		evicted = t.evictLocked()
	}
	return evicted
}

// Delete removes the entry for key, reporting whether it was present.
func (t *Tier) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	delete(t.entries, key)
	return ok
}

// DeleteMatching removes every entry whose key or original input contains
// pattern, returning the number removed.
func (t *Tier) DeleteMatching(pattern string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for k, e := range t.entries {
		if strings.Contains(k, pattern) || strings.Contains(e.OriginalInput, pattern) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// Sweep removes every entry expired at now and returns the number removed.
func (t *Tier) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(now)
}

// Len returns the number of physically present entries, expired included.
func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// TotalSize sums the size estimates of all present entries.
func (t *Tier) TotalSize() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total int64
	for _, e := range t.entries {
		total += e.SizeEstimate
	}
	return total
}

func (t *Tier) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range t.entries {
		if e.Expired(now) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// evictLocked drops entries until the tier holds at most 80% of capacity.
// Must be called with t.mu held.
func (t *Tier) evictLocked() int {
	target := t.capacity * 4 / 5
	excess := len(t.entries) - target
	if excess <= 0 {
		return 0
	}

	ranked := make([]*entry.Entry, 0, len(t.entries))
	for _, e := range t.entries {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].HitCount != ranked[j].HitCount {
			return ranked[i].HitCount < ranked[j].HitCount
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})

	for _, e := range ranked[:excess] {
		delete(t.entries, e.Key)
	}
	return excess
}
