package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/session"
)

// DefaultAddress is the default listen address of the HTTP frontend.
const DefaultAddress = "127.0.0.1:8080"

// Server is the HTTP frontend.
type Server struct {
	address   string
	objects   *objects.Manager
	sessions  *session.Manager
	staticDir string

	eventBuffer  int
	pingInterval time.Duration
	upgrader     websocket.Upgrader

	logger  *slog.Logger
	metrics *metric.Metrics

	mu       sync.Mutex
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts requests by route and status.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) { s.metrics = registry.CoreMetrics() }
}

// WithStaticDir serves the files of dir under /web/.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithEventBuffer sets how many notifications may wait for a slow event
// stream client before new ones are dropped.
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithPingInterval sets the keepalive interval of event streams.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// NewServer returns a frontend for the object manager m and the browser
// sessions of sessions.
func NewServer(address string, m *objects.Manager, sessions *session.Manager, opts ...Option) *Server {
	if address == "" {
		address = DefaultAddress
	}
	s := &Server{
		address:      address,
		objects:      m,
		sessions:     sessions,
		eventBuffer:  64,
		pingInterval: 30 * time.Second,
		logger:       slog.Default().With("component", "web"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}
	return s
}

// Name identifies the server as a supervised worker.
func (s *Server) Name() string { return "web" }

// Handler returns the routes of the frontend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s.route("ui", s.handleUI))
	mux.Handle("/obj/", s.route("obj", s.handleObjects))
	mux.Handle("/web/", s.route("web", s.handleStatic))
	return mux
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.WrapTransient(err, "web", "Run", fmt.Sprintf("listen on %s", s.address))
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("HTTP frontend listening", "address", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.WrapTransient(err, "web", "Run", "shutdown")
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.WrapTransient(err, "web", "Run", "serve")
	}
}

// Address returns the bound address once Run has started listening.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

// route records the status and duration of each request of a route family.
func (s *Server) route(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		h(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest("/"+name+"/", rec.status)
		s.metrics.RecordRequestDuration("http", name, time.Since(start))
		s.logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
	})
}

// segments splits the escaped path after prefix and unescapes each part,
// so that "%2F" inside an objref does not split it.
func segments(r *http.Request, prefix string) ([]string, error) {
	rest := strings.TrimPrefix(r.URL.EscapedPath(), prefix)
	if rest == "" {
		return nil, nil
	}
	raw := strings.Split(rest, "/")
	out := make([]string, len(raw))
	for i, p := range raw {
		u, err := url.PathUnescape(p)
		if err != nil {
			return nil, errors.WrapInvalid(err, "web", "segments", "unescape path")
		}
		out[i] = u
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"unknown"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError answers an error as {"error": reason}. Object errors keep
// their reason; other invalid requests are "invalid-request" and anything
// else "unknown".
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	reason := errors.CodeUnknown
	if oe, ok := errors.AsObjectError(err); ok {
		reason = oe.Reason()
		status = http.StatusBadRequest
		if oe.Code == errors.CodeObjectNotFound {
			status = http.StatusNotFound
		}
		s.metrics.RecordFailure("http", oe.Code)
	} else if errors.IsInvalid(err) {
		reason = "invalid-request"
		status = http.StatusBadRequest
	} else {
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": reason})
}

// sameOrigin accepts websocket upgrades without an Origin header or whose
// Origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
