// Package cache provides assessment caching for Harrier.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

const defaultLocalMaxSize = 10000

// LRUCache is an in-process, size-bounded cache with per-entry TTL.
// It is the community cache and the L1 of TwoPhaseCache.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element // values are *lruEntry
	order   *list.List               // front is most recently used
	now     func() time.Time
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time // zero never expires
}

func (e *lruEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = defaultLocalMaxSize
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the value for key, or nil when absent or expired.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		metrics.CacheLookups.WithLabelValues("local", "miss").Inc()
		return nil, nil
	}
	e := el.Value.(*lruEntry)
	if e.expired(c.now()) {
		c.unlink(el)
		metrics.CacheLookups.WithLabelValues("local", "expired").Inc()
		return nil, nil
	}

	c.order.MoveToFront(el)
	metrics.CacheLookups.WithLabelValues("local", "hit").Inc()
	return e.value, nil
}

// Set stores value under key. A ttl <= 0 keeps the entry until evicted.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.order.MoveToFront(el)
		return nil
	}

	c.items[key] = c.order.PushFront(&lruEntry{key: key, value: value, expires: expires})
	for c.order.Len() > c.maxSize {
		c.unlink(c.order.Back())
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.unlink(el)
	}
	return nil
}

func (c *LRUCache) GetAssessment(ctx context.Context, txID string) (*domain.Assessment, error) {
	return getAssessment(ctx, c, txID)
}

func (c *LRUCache) SetAssessment(ctx context.Context, a *domain.Assessment, ttl time.Duration) error {
	return setAssessment(ctx, c, a, ttl)
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close drops every entry. The cache stays usable.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Stats returns the current entry count and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

// unlink removes el. Caller must hold mu.
func (c *LRUCache) unlink(el *list.Element) {
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.items, el.Value.(*lruEntry).key)
}
