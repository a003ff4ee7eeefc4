package pricecache

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(maxEntries int, ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(Options{
		MaxEntries: maxEntries,
		TTL:        ttl,
		BucketSecs: 3600,
		Clock:      clock.Now,
	}), clock
}

func TestGetPut_RoundTrip(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	if _, ok := c.Get("m1", 1000); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put("m1", 1000, dec("2000.5"))
	price, ok := c.Get("m1", 1000)
	if !ok {
		t.Fatal("expected hit")
	}
	if !price.Equal(dec("2000.5")) {
		t.Errorf("expected 2000.5, got %s", price)
	}
}

func TestBucketing_SameBucketSharesEntry(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	// 1000 and 3599 land in bucket 0; 3600 starts the next bucket
	c.Put("m1", 1000, dec("100"))
	if price, ok := c.Get("m1", 3599); !ok || !price.Equal(dec("100")) {
		t.Errorf("expected bucket hit with 100, got %s ok=%v", price, ok)
	}
	if _, ok := c.Get("m1", 3600); ok {
		t.Error("expected miss in the next bucket")
	}
}

func TestKeying_DistinctMarkets(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)
	c.Put("m1", 1000, dec("100"))
	c.Put("m2", 1000, dec("200"))

	if price, _ := c.Get("m1", 1000); !price.Equal(dec("100")) {
		t.Errorf("m1: expected 100, got %s", price)
	}
	if price, _ := c.Get("m2", 1000); !price.Equal(dec("200")) {
		t.Errorf("m2: expected 200, got %s", price)
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Hour)

	c.Put("m1", 0, dec("1"))
	c.Put("m2", 0, dec("2"))

	// Touch m1 so m2 becomes the LRU entry
	if _, ok := c.Get("m1", 0); !ok {
		t.Fatal("expected hit on m1")
	}

	c.Put("m3", 0, dec("3"))
	if _, ok := c.Get("m2", 0); ok {
		t.Error("expected m2 evicted as least recently used")
	}
	if _, ok := c.Get("m1", 0); !ok {
		t.Error("expected m1 retained")
	}
	if _, ok := c.Get("m3", 0); !ok {
		t.Error("expected m3 present")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
}

func TestTTL_ExpiredEntryIsMiss(t *testing.T) {
	c, clock := newTestCache(10, time.Hour)

	c.Put("m1", 0, dec("100"))
	clock.Advance(61 * time.Minute)

	if _, ok := c.Get("m1", 0); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry evicted on lookup, got %d entries", c.Len())
	}
}

func TestEvictExpired(t *testing.T) {
	c, clock := newTestCache(10, time.Hour)

	c.Put("m1", 0, dec("1"))
	c.Put("m2", 0, dec("2"))
	clock.Advance(2 * time.Hour)
	c.Put("m3", 0, dec("3"))

	if n := c.EvictExpired(); n != 2 {
		t.Errorf("expected 2 evictions, got %d", n)
	}
	if _, ok := c.Get("m3", 0); !ok {
		t.Error("expected fresh entry retained")
	}
}

func TestPut_RefreshesExistingEntry(t *testing.T) {
	c, clock := newTestCache(10, time.Hour)

	c.Put("m1", 0, dec("100"))
	clock.Advance(50 * time.Minute)
	c.Put("m1", 0, dec("150"))
	clock.Advance(30 * time.Minute)

	// 80 minutes since first insert, 30 since refresh: still live
	price, ok := c.Get("m1", 0)
	if !ok {
		t.Fatal("expected refreshed entry to be live")
	}
	if !price.Equal(dec("150")) {
		t.Errorf("expected refreshed price 150, got %s", price)
	}
	if c.Len() != 1 {
		t.Errorf("expected single entry after refresh, got %d", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(64, time.Hour)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := string(rune('a' + g))
			for i := 0; i < 200; i++ {
				ts := int64(i * 3600)
				c.Put(id, ts, decimal.NewFromInt(int64(i)))
				c.Get(id, ts)
				c.EvictExpired()
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Errorf("cache exceeded its bound: %d entries", c.Len())
	}
}
