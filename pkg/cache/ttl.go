package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache expires entries that have not been set or touched for the
// configured time to live.
type TTLCache[V any] struct {
	mu              sync.Mutex
	ttl             time.Duration
	cleanupInterval time.Duration
	items           map[string]*ttlEntry[V]
	rec             recorder
	evictFn         EvictCallback[V]
	now             func() time.Time

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newTTLCache[V any](ctx context.Context, ttl, cleanupInterval time.Duration, opts *settings[V]) (*TTLCache[V], error) {
	metrics, err := newMetricsFor(opts, "NewTTL")
	if err != nil {
		return nil, err
	}
	c := &TTLCache[V]{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		items:           make(map[string]*ttlEntry[V]),
		rec:             recorder{stats: NewStatistics(), metrics: metrics},
		evictFn:         opts.onEvict,
		now:             time.Now,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	go c.cleanup(ctx)
	return c, nil
}

// TTL returns the idle window of the cache.
func (c *TTLCache[V]) TTL() time.Duration { return c.ttl }

// Get returns a live entry. An expired entry is removed and reported as a miss.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	e, ok := c.items[key]
	if ok && c.now().After(e.expiresAt) {
		delete(c.items, key)
		size := len(c.items)
		c.mu.Unlock()
		c.rec.evicted(1, size)
		c.rec.miss()
		if c.evictFn != nil {
			c.evictFn(key, e.value)
		}
		return zero, false
	}
	c.mu.Unlock()

	if !ok {
		c.rec.miss()
		return zero, false
	}
	c.rec.hit()
	return e.value, true
}

// Touch restarts the idle window of key. It reports whether key was live.
func (c *TTLCache[V]) Touch(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || c.now().After(e.expiresAt) {
		return false
	}
	e.expiresAt = c.now().Add(c.ttl)
	return true
}

func (c *TTLCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = &ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.rec.set(size)
	return !exists, nil
}

func (c *TTLCache[V]) SetIfAbsent(key string, value V) (V, bool, error) {
	if err := validateKey(key); err != nil {
		var zero V
		return zero, false, err
	}
	c.mu.Lock()
	if e, ok := c.items[key]; ok && !c.now().After(e.expiresAt) {
		c.mu.Unlock()
		return e.value, false, nil
	}
	c.items[key] = &ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.rec.set(size)
	return value, true, nil
}

func (c *TTLCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	e, exists := c.items[key]
	delete(c.items, key)
	size := len(c.items)
	c.mu.Unlock()

	if !exists {
		return false, nil
	}
	c.rec.deleted(size)
	if c.evictFn != nil {
		c.evictFn(key, e.value)
	}
	return true, nil
}

func (c *TTLCache[V]) Clear() error {
	c.mu.Lock()
	old := c.items
	c.items = make(map[string]*ttlEntry[V])
	c.mu.Unlock()

	c.rec.size(0)
	if c.evictFn != nil {
		for k, e := range old {
			c.evictFn(k, e.value)
		}
	}
	return nil
}

func (c *TTLCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys of live entries.
func (c *TTLCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	keys := make([]string, 0, len(c.items))
	for k, e := range c.items {
		if !now.After(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (c *TTLCache[V]) Stats() *Statistics { return c.rec.stats }

// Close stops the sweeper.
func (c *TTLCache[V]) Close() error {
	c.closeOnce.Do(func() { close(c.shutdown) })
	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cache sweeper to stop")
	}
}

func (c *TTLCache[V]) cleanup(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

// RemoveExpired sweeps expired entries now.
func (c *TTLCache[V]) RemoveExpired() {
	now := c.now()
	expired := map[string]V{}

	c.mu.Lock()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			expired[k] = e.value
			delete(c.items, k)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	c.rec.evicted(len(expired), size)
	if c.evictFn != nil {
		for k, v := range expired {
			c.evictFn(k, v)
		}
	}
}
