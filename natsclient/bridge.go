package natsclient

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/notify"
	"github.com/nestormc/nestor/pkg/worker"
)

// DefaultPrefix is the subject prefix of forwarded notifications.
const DefaultPrefix = "nestor.notify"

// Bridge relays notifications between the local bus and other processes.
// Local notifications are published to <prefix>.<name> with the object
// reference as payload; messages from other origins are delivered on the
// bus with their origin set, and are never forwarded again.
type Bridge struct {
	bus       *notify.Bus
	transport Transport
	prefix    string
	origin    string
	workers   int
	queueSize int
	stopWait  time.Duration

	logger   *slog.Logger
	registry *metric.MetricsRegistry
	pool     *worker.Pool[notify.Notification]

	forwarded atomic.Int64
	received  atomic.Int64
	skipped   atomic.Int64
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) BridgeOption {
	return func(b *Bridge) {
		if prefix = strings.Trim(prefix, "."); prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithBridgeOrigin sets the id used to recognise this process' own messages.
func WithBridgeOrigin(origin string) BridgeOption {
	return func(b *Bridge) {
		if origin != "" {
			b.origin = origin
		}
	}
}

// WithBridgeLogger sets the bridge logger.
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBridgeMetrics exports the publish queue metrics.
func WithBridgeMetrics(registry *metric.MetricsRegistry) BridgeOption {
	return func(b *Bridge) { b.registry = registry }
}

// WithQueue sets the number of publishing goroutines and the queue length.
func WithQueue(workers, size int) BridgeOption {
	return func(b *Bridge) {
		if workers > 0 {
			b.workers = workers
		}
		if size > 0 {
			b.queueSize = size
		}
	}
}

// NewBridge creates a bridge between bus and transport. When the transport
// is a Client, its origin is used unless WithBridgeOrigin says otherwise.
func NewBridge(bus *notify.Bus, transport Transport, opts ...BridgeOption) (*Bridge, error) {
	if bus == nil || transport == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "NewBridge", "bus and transport required")
	}
	b := &Bridge{
		bus:       bus,
		transport: transport,
		prefix:    DefaultPrefix,
		origin:    uuid.NewString(),
		workers:   2,
		queueSize: 256,
		stopWait:  5 * time.Second,
		logger:    slog.Default().With("component", "nats-bridge"),
	}
	if c, ok := transport.(*Client); ok {
		b.origin = c.Origin()
	}
	for _, opt := range opts {
		opt(b)
	}

	pool, err := worker.NewPool(b.workers, b.queueSize, b.publish,
		worker.WithMetricsRegistry[notify.Notification](b.registry, "nats_bridge"),
		worker.WithLogger[notify.Notification](b.logger))
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "NewBridge", "create publish pool")
	}
	b.pool = pool
	return b, nil
}

// Name identifies the bridge as a supervised worker.
func (b *Bridge) Name() string { return "nats-bridge" }

// Origin returns the id stamped on forwarded messages.
func (b *Bridge) Origin() string { return b.origin }

// Subject returns the subject a notification name is published to.
func (b *Bridge) Subject(name string) string { return b.prefix + "." + name }

// Run relays notifications until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Bridge", "Run", "start publish pool")
	}
	defer func() {
		if err := b.pool.Stop(b.stopWait); err != nil {
			b.logger.Warn("Publish queue not drained", "error", err)
		}
	}()

	unsubscribe, err := b.transport.Subscribe(ctx, b.prefix+".>", b.receive)
	if err != nil {
		return errors.WrapTransient(err, "Bridge", "Run", "subscribe")
	}
	defer func() {
		if err := unsubscribe(); err != nil {
			b.logger.Debug("Unsubscribe failed", "error", err)
		}
	}()

	unobserve := b.bus.Observe(b.forward)
	defer unobserve()

	b.logger.Info("Notification bridge running", "prefix", b.prefix, "origin", b.origin)
	<-ctx.Done()
	return nil
}

// forward queues local notifications. Relayed ones carry an origin and stay
// local.
func (b *Bridge) forward(n notify.Notification) {
	if n.Origin != "" {
		return
	}
	if !validToken(n.Name) {
		b.skipped.Add(1)
		b.logger.Debug("Notification name is not a subject token", "name", n.Name)
		return
	}
	if err := b.pool.Submit(n); err != nil {
		b.skipped.Add(1)
		b.logger.Warn("Notification not forwarded", "name", n.Name, "error", err)
	}
}

func (b *Bridge) publish(ctx context.Context, n notify.Notification) error {
	err := b.transport.Publish(ctx, Message{
		Subject: b.Subject(n.Name),
		Origin:  b.origin,
		Data:    []byte(n.ObjRef),
	})
	if err == nil {
		b.forwarded.Add(1)
	}
	return err
}

func (b *Bridge) receive(_ context.Context, msg Message) {
	if msg.Origin == b.origin {
		return
	}
	name, ok := strings.CutPrefix(msg.Subject, b.prefix+".")
	if !ok || name == "" {
		return
	}
	origin := msg.Origin
	if origin == "" {
		origin = "unknown"
	}
	b.received.Add(1)
	b.bus.Deliver(notify.Notification{Name: name, ObjRef: string(msg.Data), Origin: origin})
}

// BridgeStats counts relayed notifications.
type BridgeStats struct {
	Forwarded int64 `json:"forwarded"`
	Received  int64 `json:"received"`
	Skipped   int64 `json:"skipped"`
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Forwarded: b.forwarded.Load(),
		Received:  b.received.Load(),
		Skipped:   b.skipped.Load(),
	}
}

func validToken(name string) bool {
	if name == "" {
		return false
	}
	return !strings.ContainsAny(name, " \t\r\n*>")
}
