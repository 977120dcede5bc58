package objects

import (
	"context"
	"sync"
	"time"
)

// Snapshot holds an upstream state shared by the wrappers of one provider,
// such as a player playlist. Concurrent queries share one refresh: Get holds
// the lock while refreshing, and returns the held value while it is younger
// than maxAge.
type Snapshot[T any] struct {
	mu        sync.Mutex
	maxAge    time.Duration
	refresh   func(context.Context) (T, error)
	value     T
	updatedAt time.Time
	valid     bool
	now       func() time.Time
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot[T any](maxAge time.Duration, refresh func(context.Context) (T, error)) *Snapshot[T] {
	return &Snapshot[T]{maxAge: maxAge, refresh: refresh, now: time.Now}
}

// Get returns the current value, refreshing it when stale. A failed refresh
// keeps the previous value around for the next attempt.
func (s *Snapshot[T]) Get(ctx context.Context) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.valid && now.Sub(s.updatedAt) < s.maxAge {
		return s.value, nil
	}
	v, err := s.refresh(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	s.value, s.updatedAt, s.valid = v, now, true
	return v, nil
}

// Invalidate forces the next Get to refresh.
func (s *Snapshot[T]) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// UpdatedAt returns the time of the last successful refresh.
func (s *Snapshot[T]) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}
