package cache

import (
	"sync/atomic"
	"time"
)

// Statistics counts cache operations. It is safe for concurrent use.
type Statistics struct {
	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	deletes     atomic.Int64
	evictions   atomic.Int64
	currentSize atomic.Int64
	maxSize     atomic.Int64
	startTime   time.Time
}

// NewStatistics returns zeroed statistics.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) Hit()      { s.hits.Add(1) }
func (s *Statistics) Miss()     { s.misses.Add(1) }
func (s *Statistics) Set()      { s.sets.Add(1) }
func (s *Statistics) Delete()   { s.deletes.Add(1) }
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// UpdateSize records the current size and the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.currentSize.Store(size)
	for {
		hw := s.maxSize.Load()
		if size <= hw || s.maxSize.CompareAndSwap(hw, size) {
			return
		}
	}
}

func (s *Statistics) Hits() int64        { return s.hits.Load() }
func (s *Statistics) Misses() int64      { return s.misses.Load() }
func (s *Statistics) Sets() int64        { return s.sets.Load() }
func (s *Statistics) Deletes() int64     { return s.deletes.Load() }
func (s *Statistics) Evictions() int64   { return s.evictions.Load() }
func (s *Statistics) CurrentSize() int64 { return s.currentSize.Load() }
func (s *Statistics) MaxSize() int64     { return s.maxSize.Load() }

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Sets        int64         `json:"sets"`
	Deletes     int64         `json:"deletes"`
	Evictions   int64         `json:"evictions"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	HitRatio    float64       `json:"hit_ratio"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all counters.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:        s.Hits(),
		Misses:      s.Misses(),
		Sets:        s.Sets(),
		Deletes:     s.Deletes(),
		Evictions:   s.Evictions(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		HitRatio:    s.HitRatio(),
		Uptime:      time.Since(s.startTime),
	}
}
