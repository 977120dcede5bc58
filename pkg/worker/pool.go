package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nestormc/nestor/metric"
)

// Errors returned by the pool.
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
)

// Pool processes items of type T on a fixed number of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	logger    *slog.Logger

	queue   chan T
	metrics *poolMetrics
	wg      sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registry *metric.MetricsRegistry
	name     string
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	items      *prometheus.CounterVec
	duration   prometheus.Histogram
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports queue depth and item counters under name.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.name = name
	}
}

// WithLogger sets the logger used to report processing failures.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 4 workers and a
// queue of 256 items.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		queue:     make(chan T, queueSize),
		logger:    slog.Default().With("component", "worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.name != "" {
		m, err := newPoolMetrics(p.registry, p.name)
		if err != nil {
			return nil, err
		}
		p.metrics = m
	}
	return p, nil
}

func newPoolMetrics(registry *metric.MetricsRegistry, name string) (*poolMetrics, error) {
	labels := prometheus.Labels{"pool": name}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "worker", Name: "queue_depth",
			Help: "Items waiting in the worker pool queue", ConstLabels: labels,
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "worker", Name: "items_total",
			Help: "Work items by outcome (submitted, processed, failed, dropped)", ConstLabels: labels,
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace, Subsystem: "worker", Name: "processing_duration_seconds",
			Help: "Time spent processing work items", ConstLabels: labels,
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
	if err := registry.RegisterGauge(name, "worker_queue_depth", m.queueDepth); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(name, "worker_items", m.items); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(name, "worker_duration", m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Pool[T]) count(outcome string, c *atomic.Int64) {
	c.Add(1)
	if p.metrics != nil {
		p.metrics.items.WithLabelValues(outcome).Inc()
		p.metrics.queueDepth.Set(float64(len(p.queue)))
	}
}

// Submit queues work without blocking.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- work:
		p.count("submitted", &p.submitted)
		return nil
	default:
		p.count("dropped", &p.dropped)
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx is done or the pool is stopped.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued items to drain.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (p *Pool[T]) work(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			start := time.Now()
			err := p.processor(ctx, item)
			if p.metrics != nil {
				p.metrics.duration.Observe(time.Since(start).Seconds())
			}
			p.count("processed", &p.processed)
			if err != nil {
				p.count("failed", &p.failed)
				p.logger.Debug("Work item failed", "error", err)
			}
		}
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}
