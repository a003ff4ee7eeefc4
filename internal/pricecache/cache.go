// Package pricecache provides a bounded, time-windowed cache for collateral
// prices keyed by (market, time bucket). Eviction is LRU with a TTL on top,
// both applied synchronously on insert and lookup. One instance per
// simulation run, or a shared instance behind its internal mutex.
package pricecache

import (
	"container/list"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults used by New when an option is zero.
const (
	DefaultMaxEntries  = 1024
	DefaultTTL         = 24 * time.Hour
	DefaultBucketHours = 1
)

// Options configures a cache.
type Options struct {
	MaxEntries int           // entry cap before LRU eviction, 0 means 1024
	TTL        time.Duration // entry lifetime, 0 means 24h
	BucketSecs int64         // bucket width in seconds, 0 means 3600
	Clock      func() time.Time
}

type entry struct {
	key        string
	price      decimal.Decimal
	insertedAt time.Time
	elem       *list.Element // position in the access-order list
}

// Cache is a bounded LRU+TTL price cache. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // front = most recently used
	maxEntries int
	ttl        time.Duration
	bucketSecs int64
	now        func() time.Time
}

// New creates a cache, filling zero-valued options with defaults.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.BucketSecs <= 0 {
		opts.BucketSecs = DefaultBucketHours * 3600
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache{
		entries:    make(map[string]*entry, opts.MaxEntries),
		order:      list.New(),
		maxEntries: opts.MaxEntries,
		ttl:        opts.TTL,
		bucketSecs: opts.BucketSecs,
		now:        opts.Clock,
	}
}

// key buckets a timestamp and joins it with the market id.
func (c *Cache) key(marketID string, timestamp int64) string {
	bucket := timestamp - timestamp%c.bucketSecs
	return marketID + "|" + decimal.NewFromInt(bucket).String()
}

// Get returns the cached price for (market, bucket of timestamp). An expired
// entry is evicted and reported as a miss.
func (c *Cache) Get(marketID string, timestamp int64) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[c.key(marketID, timestamp)]
	if !ok {
		return decimal.Zero, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.remove(e)
		return decimal.Zero, false
	}
	c.order.MoveToFront(e.elem)
	return e.price, true
}

// Put stores a price for (market, bucket of timestamp), refreshing the entry
// if it already exists. Inserting past capacity evicts the least recently
// used entry.
func (c *Cache) Put(marketID string, timestamp int64, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(marketID, timestamp)
	if e, ok := c.entries[k]; ok {
		e.price = price
		e.insertedAt = c.now()
		c.order.MoveToFront(e.elem)
		return
	}

	e := &entry{key: k, price: price, insertedAt: c.now()}
	e.elem = c.order.PushFront(e)
	c.entries[k] = e

	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*entry))
	}
}

// EvictExpired drops every entry older than the TTL and returns how many
// were removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	evicted := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.insertedAt.Before(cutoff) {
			c.remove(e)
			evicted++
		}
		el = prev
	}
	return evicted
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove deletes an entry. Caller holds the mutex.
func (c *Cache) remove(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}
