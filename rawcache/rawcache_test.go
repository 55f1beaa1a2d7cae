package rawcache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/promptpipe/enhancecache/store"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	db, err := store.Open(filepath.Join(t.TempDir(), "raw.db"), store.WithLogger(log))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	c, err := New(db, ttl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSetGet(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "p1", []string{"react"}); ok {
		t.Fatal("expected miss before Set")
	}

	c.Set(ctx, "p1", []string{"react"}, Payload{Facts: "uses vite", Docs: "react docs"})

	rc, ok := c.Get(ctx, "p1", []string{"react"})
	if !ok {
		t.Fatal("expected hit")
	}
	if rc.GatheredFacts != "uses vite" {
		t.Fatalf("facts = %q", rc.GatheredFacts)
	}
}

func TestFrameworkOrderIndependent(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "p1", []string{"react", "vite"}, Payload{Facts: "f"})

	if _, ok := c.Get(ctx, "p1", []string{"vite", "react"}); !ok {
		t.Fatal("expected hit with reordered frameworks")
	}
}

func TestShortTTLForcesRegather(t *testing.T) {
	c := openTestCache(t, 2*time.Hour)
	ctx := context.Background()

	now := time.Now()
	c.nowFunc = func() time.Time { return now }

	c.Set(ctx, "p1", []string{"react"}, Payload{Facts: "f"})

	if _, ok := c.Get(ctx, "p1", []string{"react"}); !ok {
		t.Fatal("expected hit within TTL")
	}

	now = now.Add(2*time.Hour + time.Second)

	if _, ok := c.Get(ctx, "p1", []string{"react"}); ok {
		t.Fatal("expected miss after TTL, forcing a re-gather")
	}
}

func TestPromotionFromDurable(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	db, err := store.Open(filepath.Join(t.TempDir(), "raw.db"), store.WithLogger(log))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	// First cache instance writes, second starts with a cold memory tier
	// and must be served from the durable tier.
	c1, err := New(db, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c1.Set(ctx, "p1", []string{"react"}, Payload{Facts: "persisted"})
	c1.Close()

	c2, err := New(db, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c2.Close()

	rc, ok := c2.Get(ctx, "p1", []string{"react"})
	if !ok {
		t.Fatal("expected durable hit")
	}
	if rc.GatheredFacts != "persisted" {
		t.Fatalf("facts = %q", rc.GatheredFacts)
	}

	// The hit must now also be served from the promoted memory copy.
	if _, ok := c2.Get(ctx, "p1", []string{"react"}); !ok {
		t.Fatal("expected promoted memory hit")
	}
}

func TestInvalidateProject(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "p1", []string{"react"}, Payload{Facts: "a"})
	c.Set(ctx, "p1", []string{"vue"}, Payload{Facts: "b"})
	c.Set(ctx, "p2", []string{"react"}, Payload{Facts: "c"})

	if n := c.InvalidateProject(ctx, "p1"); n != 2 {
		t.Fatalf("invalidated %d, want 2", n)
	}

	if _, ok := c.Get(ctx, "p1", []string{"react"}); ok {
		t.Fatal("invalidated entry still served")
	}
	if _, ok := c.Get(ctx, "p2", []string{"react"}); !ok {
		t.Fatal("other project's entry removed")
	}
}

func TestReturnedRowsNotSharedWithTier(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	rc := c.Set(ctx, "p1", []string{"react"}, Payload{Facts: "f"})

	// Hammer the memory tier, which bumps the stored row's access counters,
	// while holding on to the row Set returned. The returned row must stay
	// untouched.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < 100; n++ {
			c.Get(ctx, "p1", []string{"react"})
		}
	}()
	for n := 0; n < 100; n++ {
		if n := rc.AccessCount; n != 0 {
			t.Errorf("row returned by Set was mutated, access count = %d", n)
			break
		}
	}
	wg.Wait()

	// Same guarantee for the durable-hit path.
	c.mem.Clear()
	fromDB, ok := c.Get(ctx, "p1", []string{"react"})
	if !ok {
		t.Fatal("expected durable hit")
	}
	before := fromDB.AccessCount
	c.Get(ctx, "p1", []string{"react"}) // memory hit bumps the tier's row
	if fromDB.AccessCount != before {
		t.Fatalf("row returned by Get was mutated, access count %d -> %d", before, fromDB.AccessCount)
	}
}

func TestMemoryOnlyDegradation(t *testing.T) {
	c, err := New(nil, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "p1", []string{"react"}, Payload{Facts: "f"})
	if _, ok := c.Get(ctx, "p1", []string{"react"}); !ok {
		t.Fatal("expected memory-only hit")
	}
	if n := c.Cleanup(ctx, time.Now()); n != 0 {
		t.Fatalf("cleanup = %d without durable tier", n)
	}
}
