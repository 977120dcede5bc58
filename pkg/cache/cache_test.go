package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/metric"
)

func TestSimpleCacheBasics(t *testing.T) {
	var evicted []string
	c, err := NewSimple[int](WithEvictionCallback[int](func(key string, _ int) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	created, err := c.Set("a", 1)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = c.Set("a", 2)
	require.NoError(t, err)
	assert.False(t, created)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = c.Get("b")
	assert.False(t, ok)

	deleted, err := c.Delete("missing")
	require.NoError(t, err)
	assert.False(t, deleted)
	deleted, err = c.Delete("a")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"a"}, evicted)

	_, err = c.Set("", 1)
	assert.True(t, errors.IsInvalid(err))

	s := c.Stats().Summary()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(2), s.Sets)
	assert.Equal(t, int64(1), s.MaxSize)
	assert.Equal(t, int64(0), s.CurrentSize)
}

func TestSetIfAbsentSingleWinner(t *testing.T) {
	c, err := NewSimple[*int]()
	require.NoError(t, err)

	var wins atomic.Int32
	results := make([]*int, 32)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mine := new(int)
			got, stored, err := c.SetIfAbsent("k", mine)
			require.NoError(t, err)
			if stored {
				wins.Add(1)
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	var evicted []string
	c, err := NewTTL[string](context.Background(), time.Minute, time.Hour,
		WithEvictionCallback[string](func(key string, _ string) { evicted = append(evicted, key) }))
	require.NoError(t, err)
	defer c.Close()
	c.now = func() time.Time { return now }

	_, err = c.Set("s1", "one")
	require.NoError(t, err)
	_, err = c.Set("s2", "two")
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	assert.True(t, c.Touch("s1"))

	now = now.Add(20 * time.Second)
	v, ok := c.Get("s1")
	assert.True(t, ok)
	assert.Equal(t, "one", v)
	assert.ElementsMatch(t, []string{"s1"}, c.Keys())

	_, ok = c.Get("s2")
	assert.False(t, ok)
	assert.Equal(t, []string{"s2"}, evicted)
	assert.False(t, c.Touch("s2"))

	now = now.Add(2 * time.Minute)
	c.RemoveExpired()
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, []string{"s2", "s1"}, evicted)
	assert.Equal(t, int64(2), c.Stats().Evictions())
}

func TestTTLRejectsZeroTTL(t *testing.T) {
	_, err := NewTTL[int](context.Background(), 0, time.Second)
	assert.True(t, errors.IsInvalid(err))
}

func TestCacheMetricsExport(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	c, err := NewSimple[string](WithMetrics[string](reg, "objects"))
	require.NoError(t, err)

	_, _ = c.Set("a", "x")
	c.Get("a")
	c.Get("b")

	m := c.(*simpleCache[string]).rec.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.size))

	_, err = NewSimple[string](WithMetrics[string](reg, "objects"))
	assert.Error(t, err, "duplicate registration must fail")
}
