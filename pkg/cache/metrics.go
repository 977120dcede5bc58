package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nestormc/nestor/metric"
)

type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, component string) (*cacheMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": component},
			Help:        help,
		})
	}
	m := &cacheMetrics{
		hits:      counter("hits_total", "Total number of cache hits"),
		misses:    counter("misses_total", "Total number of cache misses"),
		sets:      counter("sets_total", "Total number of cache set operations"),
		deletes:   counter("deletes_total", "Total number of cache delete operations"),
		evictions: counter("evictions_total", "Total number of expired cache entries"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Current number of entries in cache",
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"cache_hits":      m.hits,
		"cache_misses":    m.misses,
		"cache_sets":      m.sets,
		"cache_deletes":   m.deletes,
		"cache_evictions": m.evictions,
	} {
		if err := registry.RegisterCounter(component, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(component, "cache_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}

// recorder fans statistics out to the always-on Statistics and the optional
// Prometheus metrics.
type recorder struct {
	stats   *Statistics
	metrics *cacheMetrics
}

func (r recorder) lookup(found bool) {
	if found {
		r.hit()
	} else {
		r.miss()
	}
}

func (r recorder) hit() {
	r.stats.Hit()
	if r.metrics != nil {
		r.metrics.hits.Inc()
	}
}

func (r recorder) miss() {
	r.stats.Miss()
	if r.metrics != nil {
		r.metrics.misses.Inc()
	}
}

func (r recorder) set(size int) {
	r.stats.Set()
	r.size(size)
	if r.metrics != nil {
		r.metrics.sets.Inc()
	}
}

func (r recorder) deleted(size int) {
	r.stats.Delete()
	r.size(size)
	if r.metrics != nil {
		r.metrics.deletes.Inc()
	}
}

func (r recorder) evicted(n, size int) {
	for i := 0; i < n; i++ {
		r.stats.Eviction()
		if r.metrics != nil {
			r.metrics.evictions.Inc()
		}
	}
	r.size(size)
}

func (r recorder) size(size int) {
	r.stats.UpdateSize(int64(size))
	if r.metrics != nil {
		r.metrics.size.Set(float64(size))
	}
}
