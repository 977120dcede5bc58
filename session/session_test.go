package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nestormc/nestor/auxstore"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/session"
	"github.com/nestormc/nestor/ui"
	"github.com/nestormc/nestor/value"
)

type counterRoot struct {
	ui.Base
	seen value.Value
}

func (c *counterRoot) Render() {
	n := c.Load("visits", 0).AsInt()
	c.seen = value.Int(n)
	_ = c.Save("visits", n+1)
}

func newRoot() ui.Element { return &counterRoot{} }

func newManager(t *testing.T, opts ...session.Option) *session.Manager {
	t.Helper()
	m, err := session.NewManager(context.Background(), newRoot, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newStore(t *testing.T) auxstore.Backend {
	t.Helper()
	store, err := auxstore.Open(auxstore.DriverMemory, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func resolve(t *testing.T, m *session.Manager, cookie *http.Cookie) (*session.Session, bool, *http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s, fresh, err := m.Resolve(rec, req)
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return s, fresh, cookies[0]
}

var hexID = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestResolve(t *testing.T) {
	m := newManager(t, session.WithExpiry(10*time.Minute))

	s, fresh, cookie := resolve(t, m, nil)
	assert.True(t, fresh)
	assert.Equal(t, session.DefaultCookieName, cookie.Name)
	assert.Regexp(t, hexID, cookie.Value)
	assert.Equal(t, s.ID(), cookie.Value)
	assert.Equal(t, 600, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 1, m.Len())

	again, fresh, cookie2 := resolve(t, m, cookie)
	assert.False(t, fresh)
	assert.Same(t, s, again)
	assert.Equal(t, cookie.Value, cookie2.Value)
	assert.Equal(t, 600, cookie2.MaxAge)

	other, fresh, _ := resolve(t, m, nil)
	assert.True(t, fresh)
	assert.NotEqual(t, s.ID(), other.ID())
	assert.Equal(t, 2, m.Len())
}

func TestUnknownCookieGetsNewSession(t *testing.T) {
	m := newManager(t, session.WithCookieName("sid"))

	s, fresh, cookie := resolve(t, m, &http.Cookie{Name: "sid", Value: "deadbeef"})
	assert.True(t, fresh)
	assert.Equal(t, "sid", cookie.Name)
	assert.NotEqual(t, "deadbeef", s.ID())
}

func TestIdleExpiry(t *testing.T) {
	store := newStore(t)
	m := newManager(t, session.WithExpiry(40*time.Millisecond), session.WithStore(store))
	ctx := context.Background()

	s, _, cookie := resolve(t, m, nil)
	s.Output().BuildPage(ctx)
	_, ok, err := store.LoadValue(ctx, s.ID(), "nestor/nestor_root/visits")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, m.RemoveExpired(ctx))

	_, live := m.Get(s.ID())
	assert.False(t, live)
	assert.Equal(t, 0, m.Len())

	_, known, err := store.SessionExpiry(ctx, s.ID())
	require.NoError(t, err)
	assert.False(t, known)
	values, err := store.SessionValues(ctx, s.ID())
	require.NoError(t, err)
	assert.Empty(t, values)

	// The browser still sends the old cookie: it gets a new session.
	next, fresh, _ := resolve(t, m, cookie)
	assert.True(t, fresh)
	assert.NotEqual(t, s.ID(), next.ID())
	expired, _ := m.Stats().Get("expired")
	assert.Equal(t, value.Int(1), expired)
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	m := newManager(t, session.WithExpiry(100*time.Millisecond))

	s, _, cookie := resolve(t, m, nil)
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		again, fresh, _ := resolve(t, m, cookie)
		require.False(t, fresh, "request %d", i)
		require.Same(t, s, again)
	}
	assert.WithinDuration(t, time.Now(), s.LastSeen(), 50*time.Millisecond)
}

func TestValuesSurviveRestart(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := newManager(t, session.WithStore(store))
	s, _, cookie := resolve(t, first, nil)
	s.Output().BuildPage(ctx)
	s.Output().BuildPage(ctx)
	require.NoError(t, first.Close())

	second := newManager(t, session.WithStore(store))
	revived, fresh, _ := resolve(t, second, cookie)
	assert.False(t, fresh)
	assert.Equal(t, s.ID(), revived.ID())

	revived.Output().BuildPage(ctx)
	el, ok := revived.Output().Element("nestor_root")
	require.True(t, ok)
	assert.Equal(t, value.Int(2), el.(*counterRoot).seen)

	lit, ok, err := store.LoadValue(ctx, s.ID(), "nestor/nestor_root/visits")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", lit)
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	m := newManager(t, session.WithStore(store))
	ctx := context.Background()

	s, _, _ := resolve(t, m, nil)
	m.Delete(s.ID())

	_, live := m.Get(s.ID())
	assert.False(t, live)
	_, known, err := store.SessionExpiry(ctx, s.ID())
	require.NoError(t, err)
	assert.False(t, known)
}

func TestRateLimit(t *testing.T) {
	m := newManager(t, session.WithRateLimit(rate.Limit(0), 2))

	s, _, _ := resolve(t, m, nil)
	assert.True(t, s.Allow())
	assert.True(t, s.Allow())
	assert.False(t, s.Allow())
}

func TestSessionsObject(t *testing.T) {
	m := newManager(t, session.WithExpiry(time.Hour))
	objs := objects.NewManager()
	m.Publish(objs.System())

	resolve(t, m, nil)
	resolve(t, m, nil)

	o, err := objs.Get(context.Background(), "nestor:sessions")
	require.NoError(t, err)
	assert.True(t, o.HasType("sessions"))
	assert.Equal(t, value.Int(2), o.Property("active"))
	assert.Equal(t, value.Int(3600), o.Property("expiry"))
	assert.Equal(t, value.String(session.DefaultCookieName), o.Property("cookie"))
}
