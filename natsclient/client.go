package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClosed       = stderrors.New("client is closed")
)

// Client manages one NATS connection. Repeated connection failures open a
// circuit breaker that rejects attempts until its backoff has elapsed.
type Client struct {
	url    string
	origin string
	logger *slog.Logger

	status   atomic.Value // ConnectionStatus
	failures atomic.Int32

	// circuit breaker
	circuitFailures  atomic.Int32
	circuitThreshold int32
	backoff          atomic.Int64 // time.Duration
	maxBackoff       time.Duration
	openUntil        atomic.Int64 // unix nanos

	// connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	retry         retry.Config

	username string
	password string
	token    string

	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string

	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	onDisconnect func(error)
	onReconnect  func()

	mu     sync.RWMutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed atomic.Bool
}

// NewClient creates a client for url. It does not connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		origin:           uuid.NewString(),
		logger:           slog.Default().With("component", "natsclient"),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		retry:            retry.DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.metrics = c.registry.CoreMetrics()

	c.status.Store(StatusDisconnected)
	c.backoff.Store(int64(time.Second))

	c.logger.Debug("Created NATS client", "url", url, "origin", c.origin)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string { return c.url }

// Origin returns the id stamped on published messages.
func (c *Client) Origin() string { return c.origin }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
	c.metrics.RecordNATSStatus(status == StatusConnected)
}

// IsHealthy returns true if the connection is up.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the number of failed connection attempts since the last
// successful one.
func (c *Client) Failures() int32 { return c.failures.Load() }

// Backoff returns the delay applied the next time the circuit opens.
func (c *Client) Backoff() time.Duration { return time.Duration(c.backoff.Load()) }

// recordFailure counts a failed attempt and opens the circuit once the
// threshold is reached. Each opening doubles the next backoff.
func (c *Client) recordFailure() {
	total := c.failures.Add(1)
	if c.circuitFailures.Add(1) < c.circuitThreshold {
		return
	}
	c.circuitFailures.Store(0)

	current := c.Backoff()
	next := current * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	c.backoff.Store(int64(next))
	c.openUntil.Store(time.Now().Add(current).UnixNano())
	c.setStatus(StatusCircuitOpen)

	c.logger.Warn("Circuit breaker opened", "failures", total, "backoff", current)
}

// resetCircuit clears the breaker after a successful connection.
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(int64(time.Second))
	c.openUntil.Store(0)
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

func (c *Client) circuitOpen() bool {
	if c.Status() != StatusCircuitOpen {
		return false
	}
	return time.Now().UnixNano() < c.openUntil.Load()
}

// ConnectionOptions returns the nats.go options derived from the client
// configuration.
func (c *Client) ConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsEnabled {
		if c.tlsCertFile != "" && c.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(c.tlsCertFile, c.tlsKeyFile))
		}
		if c.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(c.tlsCAFile))
		}
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect establishes the connection, retrying with backoff. An open
// circuit fails immediately with ErrCircuitOpen.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	err := retry.Do(ctx, c.retry, func() error {
		if c.circuitOpen() {
			return retry.NonRetryable(ErrCircuitOpen)
		}
		return c.connectOnce(ctx)
	})
	if err != nil {
		if stderrors.Is(err, ErrCircuitOpen) {
			return ErrCircuitOpen
		}
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}
	return nil
}

func (c *Client) connectOnce(ctx context.Context) error {
	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	done := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.ConnectionOptions()...)
		if err != nil {
			done <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			c.recordFailure()
			if c.Status() != StatusCircuitOpen {
				c.setStatus(StatusDisconnected)
			}
			return err
		}
	case <-ctx.Done():
		c.recordFailure()
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return retry.NonRetryable(ctx.Err())
	}

	c.resetCircuit()
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// WaitForConnection polls until the connection is healthy or ctx is done.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// RTT returns the round-trip time to the NATS server
func (c *Client) RTT() (time.Duration, error) {
	conn := c.connection()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

func (c *Client) connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return nil
	}
	return c.conn
}

// Publish sends msg with its origin in a header. An empty origin is
// replaced with the client origin.
func (c *Client) Publish(_ context.Context, msg Message) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	origin := msg.Origin
	if origin == "" {
		origin = c.origin
	}
	m := nats.NewMsg(msg.Subject)
	m.Data = msg.Data
	m.Header.Set(OriginHeader, origin)
	if err := conn.PublishMsg(m); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+msg.Subject)
	}
	return nil
}

// Subscribe registers handler for subject, which may contain wildcards.
// Each message is handled under a context derived from ctx with a 30s
// timeout.
func (c *Client) Subscribe(ctx context.Context, subject string, handler Handler) (func() error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(m *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, Message{Subject: m.Subject, Origin: m.Header.Get(OriginHeader), Data: m.Data})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}
	c.subs = append(c.subs, sub)
	return sub.Unsubscribe, nil
}

// Close unsubscribes and drains the connection within ctx or the drain
// timeout, whichever is shorter. Calling Close twice is harmless.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		timeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}

		drained := make(chan error, 1)
		conn := c.conn
		go func() { drained <- conn.Drain() }()

		select {
		case err := <-drained:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(timeout):
			errs = append(errs, errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout),
				"Client", "Close", "drain"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain"))
		}
		conn.Close()
		c.conn = nil
	}

	c.username = ""
	c.password = ""
	c.token = ""
	c.setStatus(StatusDisconnected)

	return errors.Join(errs...)
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)
	if c.onDisconnect != nil {
		go c.onDisconnect(err)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.metrics.RecordNATSReconnect()
	c.logger.Info("Reconnected to NATS", "url", c.url)
	if c.onReconnect != nil {
		go c.onReconnect()
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	c.logger.Error("NATS error", "subject", subject, "error", err)
}
