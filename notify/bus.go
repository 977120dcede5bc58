// Package notify implements the in-process notification bus.
//
// Helpers publish named events, usually carrying an object reference, and
// registered handlers react synchronously on the publisher's goroutine:
// invalidating cache entries, queueing imports, forwarding to other
// processes. Handlers must be quick.
package notify

import (
	"log/slog"
	"sync"

	"github.com/nestormc/nestor/metric"
)

// Notification is the carrier passed to handlers.
type Notification struct {
	Name   string `json:"name"`
	ObjRef string `json:"objref,omitempty"`
	// Origin identifies the process that emitted a notification relayed
	// from elsewhere. Empty for local notifications.
	Origin string `json:"origin,omitempty"`
}

// Handler reacts to a notification.
type Handler func(Notification)

type entry struct {
	id int
	fn Handler
}

// Bus is a name keyed registry of handlers. The zero value is not usable;
// call NewBus.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	handlers  map[string][]entry
	observers []entry

	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics counts delivered notifications by name.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bus) {
		b.metrics = registry.CoreMetrics()
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]entry),
		logger:   slog.Default().With("component", "notify"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a handler for name. The returned function removes it.
func (b *Bus) Register(name string, h Handler) (unregister func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], entry{id: id, fn: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[name] = without(b.handlers[name], id)
		if len(b.handlers[name]) == 0 {
			delete(b.handlers, name)
		}
	}
}

// Observe adds a handler receiving every notification, whatever its name.
func (b *Bus) Observe(h Handler) (unregister func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, entry{id: id, fn: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.observers = without(b.observers, id)
	}
}

// Notify delivers a local notification.
func (b *Bus) Notify(name, objref string) {
	b.Deliver(Notification{Name: name, ObjRef: objref})
}

// Deliver runs the handlers registered for n.Name, then the observers. The
// registry lock is not held while handlers run, so handlers may register or
// notify themselves.
func (b *Bus) Deliver(n Notification) {
	b.mu.RLock()
	named := append([]entry(nil), b.handlers[n.Name]...)
	observers := append([]entry(nil), b.observers...)
	b.mu.RUnlock()

	b.logger.Debug("Notification", "name", n.Name, "objref", n.ObjRef, "handlers", len(named), "origin", n.Origin)
	b.metrics.RecordNotification(n.Name)

	for _, e := range named {
		e.fn(n)
	}
	for _, e := range observers {
		e.fn(n)
	}
}

// Names returns the notification names with at least one handler.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers))
	for n := range b.handlers {
		names = append(names, n)
	}
	return names
}

func without(entries []entry, id int) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}
