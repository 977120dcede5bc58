package objects

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nestormc/nestor/auxstore"
	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/expr"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/notify"
	"github.com/nestormc/nestor/value"
)

// NotifyInvalidate is the notification name that drops an object, and its
// aliases, from the cache. Its objref is the object to drop.
const NotifyInvalidate = "invalidate"

// Manager owns providers, processors and the object cache, and routes
// requests to them.
type Manager struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	processors map[string]dispatcher

	cache    *Cache
	aux      *auxstore.Store
	bus      *notify.Bus
	system   *SystemProvider
	registry *metric.MetricsRegistry
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAuxStore gives providers access to auxiliary properties.
func WithAuxStore(store *auxstore.Store) Option {
	return func(m *Manager) { m.aux = store }
}

// WithBus sets the notification bus. A private bus is created otherwise.
func WithBus(bus *notify.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithMetrics exports object cache metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) { m.registry = registry }
}

// NewManager returns a manager with the built-in nestor provider and
// processor registered.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		providers:  make(map[string]Provider),
		processors: make(map[string]dispatcher),
		logger:     slog.Default().With("component", "objects"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = notify.NewBus(notify.WithLogger(m.logger))
	}
	m.cache = NewCache(m.logger, m.registry)

	m.system = newSystemProvider(m)
	// Registration of built-ins cannot collide on a fresh manager.
	_ = m.RegisterProvider(m.system)
	_ = m.RegisterProcessor(&systemProcessor{m: m})

	m.bus.Register(NotifyInvalidate, func(n notify.Notification) {
		if err := m.InvalidateRef(n.ObjRef); err != nil {
			m.logger.Warn("Invalidate notification ignored", "objref", n.ObjRef, "error", err)
		}
	})
	return m
}

// RegisterProvider adds a provider. Names are unique. A provider that cannot
// fully enumerate its objects must implement Matcher.
func (m *Manager) RegisterProvider(p Provider) error {
	name := p.Name()
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "objects", "RegisterProvider", "empty provider name")
	}
	_, matcher := p.(Matcher)
	_, enumerable := p.(Enumerator)
	if pe, ok := p.(PartialEnumerator); ok && pe.Partial() {
		enumerable = false
	}
	if !enumerable && !matcher {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "objects", "RegisterProvider",
			"provider "+name+" cannot be searched: partial enumeration without matcher")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.providers[name]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "objects", "RegisterProvider",
			"duplicate provider "+name)
	}
	m.providers[name] = p
	if inf, ok := p.(AliasInferrer); ok {
		m.cache.SetInferrer(name, inf)
	}
	m.logger.Info("Registered provider", "owner", name, "matcher", matcher)
	return nil
}

// RegisterProcessor adds a processor. Names are unique.
func (m *Manager) RegisterProcessor(p Processor) error {
	name := p.Name()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.processors[name]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "objects", "RegisterProcessor",
			"duplicate processor "+name)
	}
	m.processors[name] = dispatcher{p}
	m.logger.Info("Registered processor", "processor", name)
	return nil
}

// Providers returns the registered owner names, sorted.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for n := range m.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) provider(owner string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[owner]
	if !ok {
		return nil, errors.ErrInvalidProvider(owner)
	}
	return p, nil
}

func (m *Manager) processor(name string) (dispatcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.processors[name]
	if !ok {
		return dispatcher{}, errors.ErrInvalidProcessor(name)
	}
	return d, nil
}

// Cache returns the object cache.
func (m *Manager) Cache() *Cache { return m.cache }

// Bus returns the notification bus.
func (m *Manager) Bus() *notify.Bus { return m.bus }

// System returns the built-in nestor provider, to which other subsystems add
// statistics objects.
func (m *Manager) System() *SystemProvider { return m.system }

// Aux returns the auxiliary property API of owner, nil without a store.
func (m *Manager) Aux(owner string) *auxstore.Props {
	if m.aux == nil {
		return nil
	}
	return m.aux.Owner(owner)
}

// Begin opens a query scope for one client request. The caller must call
// End.
func (m *Manager) Begin(ctx context.Context) *Query {
	return &Query{m: m, ctx: ctx, started: make(map[string]bool)}
}

// Get resolves one reference in its own query scope.
func (m *Manager) Get(ctx context.Context, ref string) (*Object, error) {
	q := m.Begin(ctx)
	defer q.End()
	return q.Get(ref)
}

// MatchObjects runs a search in its own query scope.
func (m *Manager) MatchObjects(ctx context.Context, req MatchRequest) ([]*Object, error) {
	q := m.Begin(ctx)
	defer q.End()
	return q.MatchObjects(req)
}

// GetActions lists the described actions of processor for ref.
func (m *Manager) GetActions(ctx context.Context, processor, ref string) ([]*Action, error) {
	q := m.Begin(ctx)
	defer q.End()
	return q.GetActions(processor, ref)
}

// DoAction executes one action in its own query scope.
func (m *Manager) DoAction(ctx context.Context, processor, action, ref string, params map[string]value.Value) (*Progress, error) {
	q := m.Begin(ctx)
	defer q.End()
	return q.DoAction(processor, action, ref, params)
}

// Notify publishes a notification on the bus.
func (m *Manager) Notify(name, ref string) {
	m.bus.Notify(name, ref)
}

// InvalidateRef drops a reference from the cache. When the object is cached
// its aliases are dropped as well.
func (m *Manager) InvalidateRef(ref string) error {
	owner, oid, err := ParseRef(ref)
	if err != nil {
		return err
	}
	if o, ok := m.cache.Lookup(owner, oid); ok {
		m.cache.Invalidate(o)
		return nil
	}
	return m.cache.Remove(ref)
}

// NoLimit as MatchRequest.Limit returns every match.
const NoLimit = -1

// MatchRequest describes a search across owners.
type MatchRequest struct {
	Owners []string
	// Expr nil or expr.Empty matches everything.
	Expr expr.Expr
	// Types keeps objects having at least one of the types. Empty keeps all.
	Types  []string
	Offset int
	// Limit caps the result count. Negative means no limit, so a zero
	// Limit returns nothing; use NoLimit for everything.
	Limit       int
	SortField   string
	SortReverse bool
}

// propagate returns object errors unchanged and wraps the others.
func propagate(err error, method, action string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsObjectError(err); ok {
		return err
	}
	return errors.Wrap(err, "objects", method, action)
}
