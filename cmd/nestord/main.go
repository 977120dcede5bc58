// Package main implements nestord, the daemon serving the object model over
// the binary control socket and the HTTP frontend.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/nestormc/nestor/auxstore"
	"github.com/nestormc/nestor/config"
	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/health"
	"github.com/nestormc/nestor/ipc"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/natsclient"
	"github.com/nestormc/nestor/notify"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/protocol"
	"github.com/nestormc/nestor/service"
	"github.com/nestormc/nestor/session"
	"github.com/nestormc/nestor/ui"
	"github.com/nestormc/nestor/value"
	"github.com/nestormc/nestor/web"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "nestord"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Daemon failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// run parses args, loads the configuration and serves until ctx is done.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	logger := setupLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		return nil
	}

	logger.Info("Starting nestord", "version", Version, "config_path", cli.ConfigPath)
	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()
	return d.serve(ctx, cli.ShutdownTimeout)
}

// daemon holds the wired components of a running nestord.
type daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	store    *auxstore.Store
	bus      *notify.Bus
	objects  *objects.Manager
	sessions *session.Manager

	ipc      *ipc.Server
	web      *web.Server
	services *service.Manager
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}

	backend, err := auxstore.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, errors.Wrap(err, "nestord", "newDaemon", "open storage")
	}
	d.store = auxstore.New(backend, auxstore.WithLogger(logger.With("component", "auxstore")))

	d.bus = notify.NewBus(
		notify.WithLogger(logger.With("component", "notify")),
		notify.WithMetrics(d.registry),
	)

	objOpts := []objects.Option{
		objects.WithLogger(logger.With("component", "objects")),
		objects.WithAuxStore(d.store),
		objects.WithBus(d.bus),
	}
	if cfg.Cache.Metrics {
		objOpts = append(objOpts, objects.WithMetrics(d.registry))
	}
	d.objects = objects.NewManager(objOpts...)

	d.sessions, err = session.NewManager(ctx, web.DefaultRoot(d.objects),
		session.WithStore(d.store.Sessions()),
		session.WithCookieName(cfg.Session.CookieName),
		session.WithSecureCookie(cfg.Session.Secure),
		session.WithExpiry(cfg.Session.Expiry.Std()),
		session.WithRateLimit(rate.Limit(cfg.Session.Rate), cfg.Session.Burst),
		session.WithLogger(logger.With("component", "session")),
		session.WithMetrics(d.registry),
		session.WithUIOptions(
			ui.WithApp(cfg.HTTP.App),
			ui.WithTitle(cfg.HTTP.Title),
			ui.WithLogger(logger.With("component", "ui")),
			ui.WithMetrics(d.registry),
		),
	)
	if err != nil {
		_ = d.store.Close()
		return nil, errors.Wrap(err, "nestord", "newDaemon", "create session manager")
	}
	d.sessions.Publish(d.objects.System())

	objectsHandler := ipc.ObjectsHandler(d.objects)
	d.ipc = ipc.NewServer(cfg.Socket.Address,
		ipc.WithLogger(logger.With("component", "ipc")),
		ipc.WithMetrics(d.registry),
		ipc.WithWriteTimeout(cfg.Socket.WriteTimeout.Std()),
		ipc.WithHandler(protocol.OpObjects, objectsHandler),
		ipc.WithHandler(protocol.OpActions, objectsHandler),
	)

	d.web = web.NewServer(cfg.HTTP.Address, d.objects, d.sessions,
		web.WithLogger(logger.With("component", "web")),
		web.WithMetrics(d.registry),
		web.WithStaticDir(cfg.HTTP.StaticDir),
	)

	if err := d.buildServices(); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

// buildServices registers the supervised workers. The control socket and
// the HTTP frontend are essential; the others are restarted on failure.
func (d *daemon) buildServices() error {
	d.services = service.NewManager(
		service.WithLogger(d.logger.With("component", "service")),
		service.WithMetrics(d.registry),
		service.WithMonitor(d.monitor),
	)
	d.objects.System().AddSource("workers", d.workerStats, "stats", "workers")

	add := func(w service.Worker, fatal bool) error {
		if err := d.services.Add(w, fatal); err != nil {
			return errors.Wrap(err, "nestord", "buildServices", "add "+w.Name())
		}
		return nil
	}
	if err := add(d.ipc, true); err != nil {
		return err
	}
	if err := add(d.web, true); err != nil {
		return err
	}
	if err := add(service.NewWorker("session-sweeper", d.sweepSessions), false); err != nil {
		return err
	}
	if d.cfg.Metrics.Enabled {
		ms := metric.NewServer(d.cfg.Metrics.Address, d.cfg.Metrics.Path, d.registry)
		ms.SetLogger(d.logger.With("component", "metrics"))
		ms.SetHealthHandler(d.monitor.Handler(appName))
		if err := add(ms, false); err != nil {
			return err
		}
	}
	if d.cfg.NATS.Enabled {
		if err := add(service.NewWorker("nats", d.runNATS), false); err != nil {
			return err
		}
	}
	return nil
}

// serve runs the workers until ctx is done, then waits up to timeout for
// them to stop.
func (d *daemon) serve(ctx context.Context, timeout time.Duration) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.services.Run(runCtx) }()
	d.logger.Info("nestord started",
		"socket", d.cfg.Socket.Address, "http", d.cfg.HTTP.Address, "storage", d.cfg.Storage.Driver)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	d.logger.Info("Received shutdown signal", "timeout", timeout)
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		d.logger.Info("nestord shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("graceful shutdown timed out after %s", timeout)
	}
}

func (d *daemon) close() {
	if err := d.sessions.Close(); err != nil {
		d.logger.Warn("Session manager close failed", "error", err)
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("Storage close failed", "error", err)
	}
}

// sweepSessions removes persisted sessions past their expiry.
func (d *daemon) sweepSessions(ctx context.Context) error {
	interval := d.sessions.Expiry() / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.sessions.RemoveExpired(ctx); err != nil {
				return err
			}
		}
	}
}

// runNATS connects to the configured server and relays bus notifications
// until ctx is done. Each run uses a fresh client and bridge.
func (d *daemon) runNATS(ctx context.Context) error {
	cfg := d.cfg.NATS
	logger := d.logger.With("component", "natsclient")
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(d.registry),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait.Std()),
	}
	if cfg.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.Name))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS != nil {
		opts = append(opts, natsclient.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile))
	}

	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	bridge, err := natsclient.NewBridge(d.bus, client,
		natsclient.WithPrefix(cfg.Prefix),
		natsclient.WithBridgeLogger(d.logger.With("component", "nats-bridge")),
		natsclient.WithBridgeMetrics(d.registry),
	)
	if err != nil {
		return err
	}
	return bridge.Run(ctx)
}

// workerStats publishes the supervisor state as nestor:workers.
func (d *daemon) workerStats() *value.Map {
	stats := value.NewMap()
	for _, st := range d.services.Status() {
		w := value.NewMap()
		w.Set("state", value.String(string(st.State)))
		w.Set("fatal", value.Bool(st.Fatal))
		w.Set("restarts", value.Int(int64(st.Restarts)))
		if st.LastError != nil {
			w.Set("last_error", value.String(st.LastError.Error()))
		}
		stats.Set(st.Name, value.MapValue(w))
	}
	return stats
}
