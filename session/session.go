package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nestormc/nestor/auxstore"
	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/pkg/cache"
	"github.com/nestormc/nestor/ui"
	"github.com/nestormc/nestor/value"
)

// Defaults.
const (
	DefaultCookieName = "nestor_sid"
	DefaultExpiry     = 30 * time.Minute
	DefaultRate       = rate.Limit(20)
	DefaultBurst      = 40
)

// Session is one browser session.
type Session struct {
	id       string
	om       *ui.OutputManager
	limiter  *rate.Limiter
	values   *valueBag
	created  time.Time
	lastSeen atomic.Int64
}

// ID returns the cookie value identifying the session.
func (s *Session) ID() string { return s.id }

// Output returns the output manager of the session.
func (s *Session) Output() *ui.OutputManager { return s.om }

// Allow reports whether a UI round-trip may proceed now.
func (s *Session) Allow() bool { return s.limiter.Allow() }

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

// LastSeen returns the time of the last request.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) seen(t time.Time) { s.lastSeen.Store(t.UnixNano()) }

// Manager creates, resolves and expires sessions.
type Manager struct {
	root       ui.RootFunc
	uiOptions  []ui.Option
	store      auxstore.SessionStore
	cookieName string
	secure     bool
	expiry     time.Duration
	limit      rate.Limit
	burst      int

	sessions *cache.TTLCache[*Session]
	// evicted counts sessions that expired or were deleted.
	evicted atomic.Int64

	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists sessions and their values.
func WithStore(store auxstore.SessionStore) Option {
	return func(m *Manager) { m.store = store }
}

// WithCookieName sets the session cookie name.
func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

// WithSecureCookie marks the cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithExpiry sets the idle time after which a session expires.
func WithExpiry(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.expiry = d
		}
	}
}

// WithRateLimit sets the per-session rate of UI round-trips.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(m *Manager) {
		m.limit = limit
		m.burst = burst
	}
}

// WithUIOptions sets options applied to every session output manager.
func WithUIOptions(opts ...ui.Option) Option {
	return func(m *Manager) { m.uiOptions = append(m.uiOptions, opts...) }
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics exports session and cache metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		m.registry = registry
		m.metrics = registry.CoreMetrics()
	}
}

// NewManager returns a session manager whose pages are built from root.
// The expiry sweeper stops with ctx or Close.
func NewManager(ctx context.Context, root ui.RootFunc, opts ...Option) (*Manager, error) {
	m := &Manager{
		root:       root,
		cookieName: DefaultCookieName,
		expiry:     DefaultExpiry,
		limit:      DefaultRate,
		burst:      DefaultBurst,
		logger:     slog.Default().With("component", "session"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	cacheOpts := []cache.Option[*Session]{
		cache.WithEvictionCallback[*Session](m.onEvict),
	}
	if m.registry != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics[*Session](m.registry, "sessions"))
	}
	sweep := m.expiry / 4
	if sweep < 10*time.Millisecond {
		sweep = 10 * time.Millisecond
	}
	sessions, err := cache.NewTTL[*Session](ctx, m.expiry, sweep, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "session", "NewManager", "create session cache")
	}
	m.sessions = sessions
	return m, nil
}

// CookieName returns the session cookie name.
func (m *Manager) CookieName() string { return m.cookieName }

// Expiry returns the idle expiry.
func (m *Manager) Expiry() time.Duration { return m.expiry }

// Resolve returns the session of a request, creating one when the request
// carries no cookie or the cookie of an expired session. It refreshes the
// cookie on w. fresh reports whether the session was created by this call.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) (s *Session, fresh bool, err error) {
	ctx := r.Context()
	if c, cerr := r.Cookie(m.cookieName); cerr == nil && c.Value != "" {
		s, err = m.lookup(ctx, c.Value)
		if err != nil {
			return nil, false, err
		}
	}
	if s == nil {
		if s, err = m.create(ctx, ""); err != nil {
			return nil, false, err
		}
		fresh = true
	} else if err := m.touch(ctx, s); err != nil {
		return nil, false, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    s.id,
		Path:     "/",
		MaxAge:   int(m.expiry / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return s, fresh, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	return m.sessions.Get(id)
}

// lookup finds a live session, reviving one that only the store still
// knows about, as after a restart.
func (m *Manager) lookup(ctx context.Context, id string) (*Session, error) {
	if s, ok := m.sessions.Get(id); ok {
		return s, nil
	}
	if m.store == nil {
		return nil, nil
	}
	expires, ok, err := m.store.SessionExpiry(ctx, id)
	if err != nil {
		return nil, errors.WrapTransient(err, "session", "lookup", "read session expiry")
	}
	if !ok || !m.now().Before(expires) {
		return nil, nil
	}
	return m.create(ctx, id)
}

func (m *Manager) create(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		var err error
		if id, err = newID(); err != nil {
			return nil, errors.WrapFatal(err, "session", "create", "generate session id")
		}
	}
	now := m.now()
	s := &Session{
		id:      id,
		limiter: rate.NewLimiter(m.limit, m.burst),
		values:  &valueBag{session: id, store: m.store, logger: m.logger, items: make(map[string]value.Value)},
		created: now,
	}
	s.seen(now)
	opts := append([]ui.Option{ui.WithValues(s.values), ui.WithLogger(m.logger)}, m.uiOptions...)
	if m.registry != nil {
		opts = append(opts, ui.WithMetrics(m.registry))
	}
	s.om = ui.NewOutputManager(m.root, opts...)

	if m.store != nil {
		if err := m.store.TouchSession(ctx, id, now.Add(m.expiry)); err != nil {
			return nil, errors.WrapTransient(err, "session", "create", "persist session")
		}
	}
	actual, stored, err := m.sessions.SetIfAbsent(id, s)
	if err != nil {
		return nil, errors.Wrap(err, "session", "create", "store session")
	}
	if stored {
		m.logger.Debug("Session created", "session", shortID(id))
		m.metrics.SetActiveSessions(m.sessions.Size())
	}
	return actual, nil
}

func (m *Manager) touch(ctx context.Context, s *Session) error {
	now := m.now()
	s.seen(now)
	m.sessions.Touch(s.id)
	if m.store == nil {
		return nil
	}
	if err := m.store.TouchSession(ctx, s.id, now.Add(m.expiry)); err != nil {
		return errors.WrapTransient(err, "session", "touch", "persist session expiry")
	}
	return nil
}

// Delete ends a session now.
func (m *Manager) Delete(id string) {
	if _, err := m.sessions.Delete(id); err != nil {
		m.logger.Debug("Session delete failed", "session", shortID(id), "error", err)
	}
}

// RemoveExpired expires idle sessions now, including sessions only the
// store still knows about.
func (m *Manager) RemoveExpired(ctx context.Context) error {
	m.sessions.RemoveExpired()
	if m.store == nil {
		return nil
	}
	ids, err := m.store.ExpiredSessions(ctx, m.now())
	if err != nil {
		return errors.WrapTransient(err, "session", "RemoveExpired", "list expired sessions")
	}
	for _, id := range ids {
		if _, live := m.sessions.Get(id); live {
			continue
		}
		if err := m.store.DeleteSession(ctx, id); err != nil {
			return errors.WrapTransient(err, "session", "RemoveExpired", "delete session")
		}
	}
	return nil
}

func (m *Manager) onEvict(id string, s *Session) {
	m.evicted.Add(1)
	m.metrics.SetActiveSessions(m.sessions.Size())
	m.logger.Debug("Session expired", "session", shortID(id))
	if m.store == nil {
		return
	}
	if err := m.store.DeleteSession(context.Background(), id); err != nil {
		m.logger.Warn("Failed to delete persisted session", "session", shortID(id), "error", err)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int { return len(m.sessions.Keys()) }

// Stats returns the properties of the nestor:sessions object.
func (m *Manager) Stats() *value.Map {
	stats := value.NewMap()
	stats.Set("active", value.Int(int64(m.Len())))
	stats.Set("expired", value.Int(m.evicted.Load()))
	stats.Set("expiry", value.Int(int64(m.expiry/time.Second)))
	stats.Set("cookie", value.String(m.cookieName))
	return stats
}

// Publish adds the nestor:sessions statistics object.
func (m *Manager) Publish(system *objects.SystemProvider) {
	system.AddSource("sessions", m.Stats, "stats", "sessions")
}

// Close stops the expiry sweeper. Live sessions stay persisted.
func (m *Manager) Close() error {
	return m.sessions.Close()
}

// newID returns the hex SHA-256 digest of 32 random bytes.
func newID() (string, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", err
	}
	sum := sha256.Sum256(seed[:])
	return hex.EncodeToString(sum[:]), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
