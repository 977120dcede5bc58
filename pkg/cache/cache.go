package cache

import (
	"context"
	"time"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/metric"
)

// Cache is a generic cache of values of type V keyed by string.
type Cache[V any] interface {
	// Get returns the value stored under key.
	Get(key string) (V, bool)

	// Set stores value under key. It reports whether a new entry was created.
	Set(key string, value V) (bool, error)

	// SetIfAbsent stores value unless key is present. It returns the value
	// that ends up in the cache and whether it was stored by this call.
	SetIfAbsent(key string, value V) (V, bool, error)

	// Delete removes key. It reports whether the key was present.
	Delete(key string) (bool, error)

	// Clear removes every entry.
	Clear() error

	Size() int
	Keys() []string
	Stats() *Statistics

	// Close releases background resources.
	Close() error
}

// EvictCallback observes entries leaving the cache, by deletion or expiry.
type EvictCallback[V any] func(key string, value V)

// Option configures a cache.
type Option[V any] func(*settings[V])

type settings[V any] struct {
	registry *metric.MetricsRegistry
	name     string
	onEvict  EvictCallback[V]
}

// WithMetrics exports the cache statistics to registry, labelled with name.
// A nil registry or an empty name leaves the cache unexported.
func WithMetrics[V any](registry *metric.MetricsRegistry, name string) Option[V] {
	return func(s *settings[V]) { s.registry, s.name = registry, name }
}

// WithEvictionCallback calls fn after an entry is deleted, cleared or
// expired, outside the cache lock.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(s *settings[V]) { s.onEvict = fn }
}

func collect[V any](options []Option[V]) *settings[V] {
	s := new(settings[V])
	for _, o := range options {
		if o != nil {
			o(s)
		}
	}
	if s.registry == nil || s.name == "" {
		s.registry, s.name = nil, ""
	}
	return s
}

// NewSimple returns a cache without eviction policy.
func NewSimple[V any](options ...Option[V]) (Cache[V], error) {
	return newSimpleCache(collect(options))
}

// NewTTL returns a cache whose entries expire ttl after their last Set or
// Touch. Expired entries are swept every cleanupInterval until ctx is done
// or the cache is closed.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, options ...Option[V]) (*TTLCache[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewTTL", "ttl must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}
	return newTTLCache(ctx, ttl, cleanupInterval, collect(options))
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}

func newMetricsFor[V any](s *settings[V], method string) (*cacheMetrics, error) {
	if s.registry == nil {
		return nil, nil
	}
	m, err := newCacheMetrics(s.registry, s.name)
	if err != nil {
		return nil, errors.WrapTransient(err, "cache", method, "metrics registration")
	}
	return m, nil
}
