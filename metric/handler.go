package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nestormc/nestor/errors"
)

// Server exposes the registry over HTTP.
type Server struct {
	addr     string
	path     string
	registry *MetricsRegistry
	logger   *slog.Logger
	health   http.Handler

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr, path string, registry *MetricsRegistry) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = ":9090"
	}
	return &Server{
		addr:     addr,
		path:     path,
		registry: registry,
		logger:   slog.Default().With("component", "metrics"),
	}
}

// SetHealthHandler replaces the static /health answer. It must be called
// before Run.
func (s *Server) SetHealthHandler(h http.Handler) { s.health = h }

// SetLogger sets the server logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Name identifies the server as a supervised worker.
func (s *Server) Name() string { return "metrics" }

// Handler returns the HTTP handler serving the metrics and health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.PrometheusRegistry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	if s.health != nil {
		mux.Handle("/health", s.health)
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.registry == nil {
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Run", "metrics registry not provided")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapTransient(err, "Server", "Run", fmt.Sprintf("listen on %s", s.addr))
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("Metrics server started", "address", ln.Addr().String(), "path", s.path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.WrapTransient(err, "Server", "Run", "shutdown")
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.WrapTransient(err, "Server", "Run", "serve")
	}
}

// Address returns the bound address once Run has started listening.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}
