package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/health"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/pkg/retry"
)

// Worker is a named blocking task. Run returns when ctx is done or the
// task fails.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

type funcWorker struct {
	name string
	fn   func(ctx context.Context) error
}

func (w funcWorker) Name() string                  { return w.name }
func (w funcWorker) Run(ctx context.Context) error { return w.fn(ctx) }

// NewWorker adapts a function into a Worker.
func NewWorker(name string, fn func(ctx context.Context) error) Worker {
	return funcWorker{name: name, fn: fn}
}

// State is the lifecycle state of a supervised worker.
type State string

// Worker states
const (
	StateStopped    State = "stopped"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateFailed     State = "failed"
)

func (s State) gauge() int {
	switch s {
	case StateRunning:
		return metric.WorkerRunning
	case StateRestarting:
		return metric.WorkerRestarting
	case StateFailed:
		return metric.WorkerFailed
	default:
		return metric.WorkerStopped
	}
}

// WorkerStatus is a snapshot of a supervised worker.
type WorkerStatus struct {
	Name      string
	State     State
	Fatal     bool
	Restarts  int
	LastError error
	Since     time.Time
}

// ErrWorkerExited is reported when a worker returns without error before
// shutdown.
var ErrWorkerExited = errors.New("worker exited")

// DefaultStableAfter is the uptime after which a restarted worker's
// backoff starts over.
const DefaultStableAfter = time.Minute

type entry struct {
	worker Worker
	fatal  bool
	status WorkerStatus
}

// Manager runs workers and restarts the best-effort ones.
type Manager struct {
	logger      *slog.Logger
	metrics     *metric.MetricsRegistry
	monitor     *health.Monitor
	backoff     retry.Config
	stableAfter time.Duration

	mu      sync.RWMutex
	entries []*entry
	names   map[string]struct{}
	started bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records worker states on the registry's worker_status gauge.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) { m.metrics = registry }
}

// WithMonitor pushes worker health to monitor.
func WithMonitor(monitor *health.Monitor) Option {
	return func(m *Manager) { m.monitor = monitor }
}

// WithRestartBackoff sets the delays between restarts of best-effort
// workers. MaxAttempts is ignored.
func WithRestartBackoff(cfg retry.Config) Option {
	return func(m *Manager) { m.backoff = cfg }
}

// WithStableAfter sets how long a worker must run before its backoff is
// reset.
func WithStableAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.stableAfter = d
		}
	}
}

// NewManager creates a Manager with no workers.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: slog.Default(),
		backoff: retry.Config{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			AddJitter:    true,
		},
		stableAfter: DefaultStableAfter,
		names:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "service")
	return m
}

// Add registers a worker. A fatal worker stops the manager when it exits.
func (m *Manager) Add(w Worker, fatal bool) error {
	if w == nil || w.Name() == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Add", "worker needs a name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Add",
			fmt.Sprintf("add worker %q", w.Name()))
	}
	if _, dup := m.names[w.Name()]; dup {
		return errors.WrapInvalid(fmt.Errorf("duplicate worker %q", w.Name()), "Manager", "Add", "register worker")
	}
	m.names[w.Name()] = struct{}{}
	m.entries = append(m.entries, &entry{
		worker: w,
		fatal:  fatal,
		status: WorkerStatus{Name: w.Name(), State: StateStopped, Fatal: fatal},
	})
	return nil
}

// Run starts every worker and blocks until ctx is done or a fatal worker
// fails. It returns nil on a clean shutdown.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Run", "start workers")
	}
	m.started = true
	entries := append([]*entry(nil), m.entries...)
	m.mu.Unlock()

	m.logger.Info("Starting workers", "count", len(entries))

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if e.fatal {
				return m.runFatal(gctx, e)
			}
			return m.runRestarting(gctx, e)
		})
	}

	err := g.Wait()
	if err != nil {
		m.logger.Error("Worker failure, shutting down", "error", err)
		return err
	}
	m.logger.Info("All workers stopped")
	return nil
}

func (m *Manager) runFatal(ctx context.Context, e *entry) error {
	m.setState(e, StateRunning, nil, false)
	err := runSafe(ctx, e.worker)

	if ctx.Err() != nil {
		m.setState(e, StateStopped, err, false)
		return nil
	}
	if err == nil {
		err = ErrWorkerExited
	}
	m.setState(e, StateFailed, err, false)
	return errors.WrapFatal(err, "Manager", "Run", fmt.Sprintf("worker %q", e.worker.Name()))
}

func (m *Manager) runRestarting(ctx context.Context, e *entry) error {
	backoff, err := retry.NewBackoff(m.backoff)
	if err != nil {
		return errors.WrapInvalid(err, "Manager", "Run", "restart backoff")
	}

	for {
		started := time.Now()
		m.setState(e, StateRunning, nil, false)
		err := runSafe(ctx, e.worker)

		if ctx.Err() != nil {
			m.setState(e, StateStopped, err, false)
			return nil
		}
		if err == nil {
			err = ErrWorkerExited
		}

		if time.Since(started) >= m.stableAfter {
			backoff.Reset()
		}
		delay := backoff.Next()
		m.setState(e, StateRestarting, err, true)
		m.logger.Warn("Worker failed, restarting",
			"worker", e.worker.Name(), "error", err, "delay", delay)

		if retry.Sleep(ctx, delay) != nil {
			m.setState(e, StateStopped, err, false)
			return nil
		}
	}
}

// runSafe turns a panic into an error.
func runSafe(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in worker %q: %v\n%s", w.Name(), r, debug.Stack())
		}
	}()
	return w.Run(ctx)
}

func (m *Manager) setState(e *entry, state State, lastErr error, restarted bool) {
	m.mu.Lock()
	if e.status.State != state {
		e.status.Since = time.Now()
	}
	e.status.State = state
	if lastErr != nil {
		e.status.LastError = lastErr
	}
	if restarted {
		e.status.Restarts++
	}
	status := e.status
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.CoreMetrics().RecordWorkerStatus(status.Name, state.gauge())
	}
	if m.monitor != nil {
		var errForHealth error
		if state != StateRunning {
			errForHealth = status.LastError
		}
		m.monitor.Update(status.Name, health.FromWorker(
			status.Name, string(state), status.Restarts, errForHealth, status.Since))
	}
}

// Status returns a snapshot of every worker in registration order.
func (m *Manager) Status() []WorkerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]WorkerStatus, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.status
	}
	return out
}

// Health aggregates the health of every worker.
func (m *Manager) Health() health.Status {
	statuses := m.Status()
	subs := make([]health.Status, 0, len(statuses))
	for _, s := range statuses {
		var lastErr error
		if s.State != StateRunning {
			lastErr = s.LastError
		}
		subs = append(subs, health.FromWorker(s.Name, string(s.State), s.Restarts, lastErr, s.Since))
	}
	return health.Aggregate("service", subs)
}
