package cache

import "sync"

// simpleCache is a locked map. Entries stay until deleted.
type simpleCache[V any] struct {
	mu      sync.RWMutex
	items   map[string]V
	rec     recorder
	evictFn EvictCallback[V]
}

func newSimpleCache[V any](s *settings[V]) (*simpleCache[V], error) {
	metrics, err := newMetricsFor(s, "NewSimple")
	if err != nil {
		return nil, err
	}
	return &simpleCache[V]{
		items:   map[string]V{},
		rec:     recorder{stats: NewStatistics(), metrics: metrics},
		evictFn: s.onEvict,
	}, nil
}

// update runs fn under the write lock and returns the resulting size.
func (c *simpleCache[V]) update(fn func(items map[string]V)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.items)
	return len(c.items)
}

func (c *simpleCache[V]) evicted(key string, v V) {
	if c.evictFn != nil {
		c.evictFn(key, v)
	}
}

func (c *simpleCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	v, ok := c.items[key]
	c.mu.RUnlock()
	c.rec.lookup(ok)
	return v, ok
}

func (c *simpleCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	var created bool
	size := c.update(func(items map[string]V) {
		_, present := items[key]
		created = !present
		items[key] = value
	})
	c.rec.set(size)
	return created, nil
}

func (c *simpleCache[V]) SetIfAbsent(key string, value V) (V, bool, error) {
	if err := validateKey(key); err != nil {
		var zero V
		return zero, false, err
	}
	stored := true
	size := c.update(func(items map[string]V) {
		if cur, present := items[key]; present {
			value, stored = cur, false
			return
		}
		items[key] = value
	})
	if stored {
		c.rec.set(size)
	}
	return value, stored, nil
}

func (c *simpleCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	var (
		old     V
		present bool
	)
	size := c.update(func(items map[string]V) {
		if old, present = items[key]; present {
			delete(items, key)
		}
	})
	if present {
		c.rec.deleted(size)
		c.evicted(key, old)
	}
	return present, nil
}

func (c *simpleCache[V]) Clear() error {
	c.mu.Lock()
	old := c.items
	c.items = map[string]V{}
	c.mu.Unlock()

	c.rec.size(0)
	for k, v := range old {
		c.evicted(k, v)
	}
	return nil
}

func (c *simpleCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *simpleCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

func (c *simpleCache[V]) Stats() *Statistics { return c.rec.stats }

func (c *simpleCache[V]) Close() error { return nil }
