package memtier

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/promptpipe/enhancecache/entry"
)

func testEntry(key string, createdAt time.Time, ttl time.Duration) *entry.Entry {
	return entry.New(key, "input "+key, "result "+key, "{}", createdAt, ttl)
}

func TestGetPut(t *testing.T) {
	tier := New(10)

	if _, ok := tier.Get("missing"); ok {
		t.Fatal("expected miss on empty tier")
	}

	e := testEntry("k1", time.Now(), time.Hour)
	tier.Put(e)

	got, ok := tier.Get("k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.ProducedResult != "result k1" {
		t.Fatalf("got %q", got.ProducedResult)
	}
	if got.HitCount != 1 {
		t.Fatalf("hit count = %d, want 1", got.HitCount)
	}
}

func TestLazyExpiry(t *testing.T) {
	tier := New(10)
	now := time.Now()
	tier.nowFunc = func() time.Time { return now }

	tier.Put(testEntry("short", now, time.Minute))

	if _, ok := tier.Get("short"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(time.Minute + time.Millisecond)

	if _, ok := tier.Get("short"); ok {
		t.Fatal("expected miss after expiry")
	}
	// Lazy expiry: still physically present until a sweep.
	if tier.Len() != 1 {
		t.Fatalf("len = %d, want 1 before sweep", tier.Len())
	}
	if n := tier.Sweep(now); n != 1 {
		t.Fatalf("sweep removed %d, want 1", n)
	}
	if tier.Len() != 0 {
		t.Fatalf("len = %d, want 0 after sweep", tier.Len())
	}
}

func TestBatchEviction(t *testing.T) {
	const capacity = 10
	tier := New(capacity)
	base := time.Now()

	// Fill to capacity, giving each entry a distinct hit count.
	for i := 0; i < capacity; i++ {
		e := testEntry(fmt.Sprintf("k%02d", i), base.Add(time.Duration(i)*time.Second), time.Hour)
		tier.Put(e)
		for n := 0; n < i; n++ {
			tier.Get(e.Key)
		}
	}

	// One more Put overflows and triggers the batch.
	evicted := tier.Put(testEntry("overflow", base, time.Hour))
	if evicted == 0 {
		t.Fatal("expected a batch eviction")
	}

	if tier.Len() > capacity*4/5 {
		t.Fatalf("len = %d after eviction, want <= %d", tier.Len(), capacity*4/5)
	}

	// The entry with the lowest hit count must be gone.
	if _, ok := tier.Peek("k00"); ok {
		t.Fatal("lowest-hit entry survived eviction")
	}
	// The hottest entry must survive.
	if _, ok := tier.Peek("k09"); !ok {
		t.Fatal("hottest entry was evicted")
	}
}

func TestEvictionTieBreaksOnAge(t *testing.T) {
	tier := New(5)
	base := time.Now()

	// All entries share hitCount 0; the oldest must be evicted first.
	for i := 0; i < 5; i++ {
		tier.Put(testEntry(fmt.Sprintf("k%d", i), base.Add(time.Duration(i)*time.Minute), time.Hour))
	}
	tier.Put(testEntry("k5", base.Add(5*time.Minute), time.Hour))

	if _, ok := tier.Peek("k0"); ok {
		t.Fatal("oldest zero-hit entry survived eviction")
	}
	if _, ok := tier.Peek("k5"); !ok {
		t.Fatal("newest entry was evicted")
	}
}

func TestDeleteMatching(t *testing.T) {
	tier := New(10)
	now := time.Now()

	tier.Put(entry.New("aaa1", "create a button", "r1", "{}", now, time.Hour))
	tier.Put(entry.New("bbb2", "create a form", "r2", "{}", now, time.Hour))
	tier.Put(entry.New("ccc3", "write a test", "r3", "{}", now, time.Hour))

	if n := tier.DeleteMatching("create"); n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if _, ok := tier.Peek("ccc3"); !ok {
		t.Fatal("non-matching entry was removed")
	}

	// Match on key as well as input.
	if n := tier.DeleteMatching("ccc"); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tier := New(100)
	now := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (w*200+i)%50)
				tier.Put(testEntry(key, now, time.Hour))
				tier.Get(key)
			}
		}()
	}
	wg.Wait()

	if tier.Len() == 0 {
		t.Fatal("expected entries after concurrent writes")
	}
}
