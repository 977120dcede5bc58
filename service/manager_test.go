package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/health"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/pkg/retry"
	"github.com/nestormc/nestor/service"
	"github.com/nestormc/nestor/testutil"
)

func fastRestarts() service.Option {
	return service.WithRestartBackoff(retry.Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	})
}

func runManager(t *testing.T, m *service.Manager) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
		return nil
	}
}

func TestAdd(t *testing.T) {
	m := service.NewManager()
	require.NoError(t, m.Add(testutil.NewMockWorker("ipc", nil), true))

	err := m.Add(testutil.NewMockWorker("ipc", nil), false)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = m.Add(service.NewWorker("", func(context.Context) error { return nil }), false)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, service.StateStopped, status[0].State)
	assert.True(t, status[0].Fatal)
}

func TestRun_StopsOnCancel(t *testing.T) {
	m := service.NewManager()
	a := testutil.NewMockWorker("a", nil)
	b := testutil.NewMockWorker("b", nil)
	require.NoError(t, m.Add(a, true))
	require.NoError(t, m.Add(b, false))

	cancel, done := runManager(t, m)
	<-a.Started()
	<-b.Started()
	testutil.WaitFor(t, time.Second, func() bool {
		for _, s := range m.Status() {
			if s.State != service.StateRunning {
				return false
			}
		}
		return true
	})

	cancel()
	require.NoError(t, waitDone(t, done))
	for _, s := range m.Status() {
		assert.Equal(t, service.StateStopped, s.State, s.Name)
	}
}

func TestRun_AlreadyStartedAndLateAdd(t *testing.T) {
	m := service.NewManager()
	w := testutil.NewMockWorker("w", nil)
	require.NoError(t, m.Add(w, false))

	cancel, done := runManager(t, m)
	<-w.Started()

	assert.ErrorIs(t, m.Run(context.Background()), errors.ErrAlreadyStarted)
	assert.ErrorIs(t, m.Add(testutil.NewMockWorker("late", nil), false), errors.ErrAlreadyStarted)

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRun_FatalWorkerStopsEverything(t *testing.T) {
	m := service.NewManager()
	var peerStopped atomic.Bool
	peer := testutil.NewMockWorker("peer", func(ctx context.Context, _ int) error {
		<-ctx.Done()
		peerStopped.Store(true)
		return nil
	})
	crash := testutil.NewMockWorker("ipc", func(context.Context, int) error {
		return testutil.ErrMockFailed
	})
	require.NoError(t, m.Add(peer, false))
	require.NoError(t, m.Add(crash, true))

	_, done := runManager(t, m)
	err := waitDone(t, done)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, testutil.ErrMockFailed)
	assert.Contains(t, err.Error(), `"ipc"`)
	assert.True(t, peerStopped.Load())

	status := m.Status()
	assert.Equal(t, service.StateFailed, status[1].State)
	assert.ErrorIs(t, status[1].LastError, testutil.ErrMockFailed)
}

func TestRun_FatalWorkerReturningNil(t *testing.T) {
	m := service.NewManager()
	require.NoError(t, m.Add(service.NewWorker("web", func(context.Context) error { return nil }), true))

	_, done := runManager(t, m)
	err := waitDone(t, done)
	assert.ErrorIs(t, err, service.ErrWorkerExited)
}

func TestRun_RestartsBestEffortWorker(t *testing.T) {
	m := service.NewManager(fastRestarts())
	w := testutil.NewMockWorker("nats", func(ctx context.Context, run int) error {
		if run < 3 {
			return testutil.ErrMockConnection
		}
		<-ctx.Done()
		return nil
	})
	require.NoError(t, m.Add(w, false))

	cancel, done := runManager(t, m)
	testutil.WaitFor(t, time.Second, func() bool { return w.Runs() == 3 })

	status := m.Status()[0]
	assert.Equal(t, service.StateRunning, status.State)
	assert.Equal(t, 2, status.Restarts)
	assert.ErrorIs(t, status.LastError, testutil.ErrMockConnection)

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRun_BestEffortWorkerExitingIsRestarted(t *testing.T) {
	m := service.NewManager(fastRestarts())
	w := testutil.NewMockWorker("once", func(ctx context.Context, run int) error {
		if run == 1 {
			return nil
		}
		<-ctx.Done()
		return nil
	})
	require.NoError(t, m.Add(w, false))

	cancel, done := runManager(t, m)
	testutil.WaitFor(t, time.Second, func() bool { return w.Runs() == 2 })

	status := m.Status()[0]
	assert.Equal(t, 1, status.Restarts)
	assert.ErrorIs(t, status.LastError, service.ErrWorkerExited)

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRun_RecoversPanics(t *testing.T) {
	m := service.NewManager(fastRestarts())
	w := testutil.NewMockWorker("ui", func(ctx context.Context, run int) error {
		if run == 1 {
			panic("boom")
		}
		<-ctx.Done()
		return nil
	})
	require.NoError(t, m.Add(w, false))

	cancel, done := runManager(t, m)
	testutil.WaitFor(t, time.Second, func() bool { return w.Runs() == 2 })

	status := m.Status()[0]
	require.Error(t, status.LastError)
	assert.Contains(t, status.LastError.Error(), "boom")
	assert.Equal(t, 1, status.Restarts)

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRun_ReportsHealthAndMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	m := service.NewManager(
		service.WithMetrics(registry),
		service.WithMonitor(monitor),
		service.WithRestartBackoff(retry.Config{InitialDelay: time.Hour, MaxDelay: time.Hour}),
	)

	healthy := testutil.NewMockWorker("ipc", nil)
	flaky := testutil.NewMockWorker("nats", func(context.Context, int) error {
		return testutil.ErrMockConnection
	})
	require.NoError(t, m.Add(healthy, true))
	require.NoError(t, m.Add(flaky, false))

	cancel, done := runManager(t, m)
	testutil.WaitFor(t, time.Second, func() bool {
		s, ok := monitor.Get("nats")
		return ok && s.IsDegraded()
	})

	s, ok := monitor.Get("ipc")
	require.True(t, ok)
	assert.True(t, s.IsHealthy())

	core := registry.CoreMetrics()
	assert.Equal(t, float64(metric.WorkerRunning), promtest.ToFloat64(core.WorkerStatus.WithLabelValues("ipc")))
	assert.Equal(t, float64(metric.WorkerRestarting), promtest.ToFloat64(core.WorkerStatus.WithLabelValues("nats")))

	agg := m.Health()
	assert.True(t, agg.IsDegraded())
	assert.Len(t, agg.SubStatuses, 2)

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, float64(metric.WorkerStopped), promtest.ToFloat64(core.WorkerStatus.WithLabelValues("nats")))
}
