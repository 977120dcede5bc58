package ipc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/pkg/retry"
	"github.com/nestormc/nestor/protocol"
)

// DefaultAddress is the default listen address of the control socket.
const DefaultAddress = "127.0.0.1:12345"

// acceptTimeout bounds each Accept so the loop notices shutdown.
const acceptTimeout = time.Second

// Server is the control socket server.
type Server struct {
	address      string
	retryConfig  retry.Config
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metric.Metrics

	hmu      sync.RWMutex
	handlers map[protocol.Opcode]Handler

	mu       sync.Mutex
	listener *net.TCPListener
	clients  map[*Client]struct{}
	wg       sync.WaitGroup
	running  atomic.Bool
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

// WithMetrics exports packet and client metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) { s.metrics = registry.CoreMetrics() }
}

// WithRetry sets the retry policy of the socket bind.
func WithRetry(cfg retry.Config) Option {
	return func(s *Server) { s.retryConfig = cfg }
}

// WithWriteTimeout bounds each answer write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithHandler registers a handler for op.
func WithHandler(op protocol.Opcode, h Handler) Option {
	return func(s *Server) { s.handlers[op] = h }
}

// NewServer returns a server listening on address once started. NOOP is
// answered SUCCESS unless another handler is registered for it.
func NewServer(address string, opts ...Option) *Server {
	if address == "" {
		address = DefaultAddress
	}
	s := &Server{
		address:      address,
		retryConfig:  retry.DefaultConfig(),
		writeTimeout: 10 * time.Second,
		logger:       slog.Default().With("component", "ipc"),
		handlers:     make(map[protocol.Opcode]Handler),
		clients:      make(map[*Client]struct{}),
	}
	s.handlers[protocol.OpNoop] = func(_ context.Context, c *Client, _ *protocol.Packet) error {
		return c.AnswerSuccess()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for op, replacing any previous handler.
func (s *Server) Handle(op protocol.Opcode, h Handler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.handlers[op] = h
}

func (s *Server) handler(op protocol.Opcode) (Handler, bool) {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	h, ok := s.handlers[op]
	return h, ok
}

// Listen binds the socket, retrying per the retry policy.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	var ln *net.TCPListener
	bind := func() error {
		addr, err := net.ResolveTCPAddr("tcp", s.address)
		if err != nil {
			return retry.NonRetryable(err)
		}
		l, err := net.ListenTCP("tcp", addr)
		if err != nil {
			return err
		}
		ln = l
		return nil
	}
	if err := retry.Do(ctx, s.retryConfig, bind); err != nil {
		return errors.WrapTransient(err, "ipc", "Listen", "bind "+s.address)
	}
	s.listener = ln
	s.logger.Info("Control socket listening", "address", ln.Addr().String())
	return nil
}

// Name identifies the server as a supervised worker.
func (s *Server) Name() string { return "ipc" }

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run binds the socket when needed and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts clients until ctx is done, then closes every connection
// and waits for the client goroutines.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "ipc", "Serve", "socket not bound")
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "ipc", "Serve", "accept loop")
	}
	defer s.running.Store(false)
	defer s.shutdown()

	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = ln.SetDeadline(time.Now().Add(acceptTimeout))
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.WrapTransient(err, "ipc", "Serve", "accept")
		}
		s.startClient(ctx, conn)
	}
}

func (s *Server) startClient(ctx context.Context, conn net.Conn) {
	c := newClient(s, conn)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.AddActiveClients(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			s.metrics.AddActiveClients(-1)
		}()
		c.serve(ctx)
	}()
}

func (s *Server) shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	for c := range s.clients {
		_ = c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("Control socket closed")
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
