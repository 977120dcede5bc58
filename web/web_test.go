package web_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nestormc/nestor/auxstore"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/notify"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/session"
	"github.com/nestormc/nestor/testutil"
	"github.com/nestormc/nestor/web"
)

type fixture struct {
	srv      *httptest.Server
	client   *http.Client
	media    *testutil.MemProvider
	player   *testutil.PlayerProcessor
	objects  *objects.Manager
	sessions *session.Manager
}

func newFixture(t *testing.T, sessionOpts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		media:   testutil.NewMediaProvider(),
		player:  testutil.NewPlayerProcessor("player"),
		objects: objects.NewManager(),
	}
	require.NoError(t, f.objects.RegisterProvider(f.media))
	require.NoError(t, f.objects.RegisterProcessor(f.player))

	var err error
	f.sessions, err = session.NewManager(context.Background(), web.DefaultRoot(f.objects), sessionOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.sessions.Close() })

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "app.css"), []byte("body{}"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(static, "img"), 0o700))

	s := web.NewServer("", f.objects, f.sessions,
		web.WithStaticDir(static),
		web.WithMetrics(metric.NewMetricsRegistry()),
		web.WithPingInterval(time.Second),
	)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	f.client = &http.Client{Jar: jar}
	return f
}

func (f *fixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := f.client.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (f *fixture) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	status, body := f.get(t, path)
	require.NoError(t, json.Unmarshal([]byte(body), v), body)
	return status
}

func TestObjectGet(t *testing.T) {
	f := newFixture(t)

	var obj web.ObjectJSON
	status := f.getJSON(t, "/obj/media:t3", &obj)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "media:t3", obj.Ref)
	assert.Equal(t, "media", obj.Owner)
	assert.Equal(t, "t3", obj.OID)
	assert.ElementsMatch(t, []string{"track", "audio"}, obj.Types)
	title, ok := obj.Props.Get("title")
	require.True(t, ok)
	assert.Equal(t, "Naima", title.AsString())
}

func TestObjectErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		status int
		reason string
	}{
		{"not found", "/obj/media:nope", http.StatusNotFound, "object-not-found:nope"},
		{"unknown provider", "/obj/video:1", http.StatusBadRequest, "invalid-provider:video"},
		{"malformed", "/obj/media", http.StatusBadRequest, "malformed-oid:media"},
		{"empty", "/obj/", http.StatusBadRequest, "no-query"},
		{"unknown processor", "/obj/actions/radio/media:t1", http.StatusBadRequest, "invalid-processor:radio"},
		{"missing param", "/obj/action/player/enqueue/media:t1", http.StatusBadRequest, "missing-param:playlist"},
		{"short action", "/obj/action/player/play", http.StatusBadRequest, "invalid-action-spec"},
		{"bad query", "/obj/list/media?q=year%20%3E%3D", http.StatusBadRequest, "invalid-request"},
		{"bad limit", "/obj/list/media?limit=-1", http.StatusBadRequest, "invalid-request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			status := f.getJSON(t, tt.path, &body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.reason, body["error"])
		})
	}
}

func TestObjectList(t *testing.T) {
	f := newFixture(t)

	var all []web.ObjectJSON
	require.Equal(t, http.StatusOK, f.getJSON(t, "/obj/list/media", &all))
	assert.Len(t, all, len(testutil.Tracks)+len(testutil.Playlists))

	var tracks []web.ObjectJSON
	f.getJSON(t, "/obj/list/media?types=track&sort=year&limit=2", &tracks)
	require.Len(t, tracks, 2)
	assert.Equal(t, "media:t5", tracks[0].Ref)

	var none []web.ObjectJSON
	require.Equal(t, http.StatusOK, f.getJSON(t, "/obj/list/media?limit=0", &none))
	assert.Empty(t, none, "zero limit")

	var coltrane []web.ObjectJSON
	f.getJSON(t, "/obj/list/media?q="+`artist%20%3D%3D%20%22John%20Coltrane%22`+"&sort=title", &coltrane)
	require.Len(t, coltrane, 2)
	assert.Equal(t, "media:t4", coltrane[0].Ref)
	assert.Equal(t, "media:t3", coltrane[1].Ref)

	var everywhere []web.ObjectJSON
	f.getJSON(t, "/obj/list/*?types=playlist", &everywhere)
	assert.Len(t, everywhere, len(testutil.Playlists))
}

func TestActions(t *testing.T) {
	f := newFixture(t)

	var actions []web.ActionJSON
	require.Equal(t, http.StatusOK, f.getJSON(t, "/obj/actions/player/media:t1", &actions))
	require.Len(t, actions, 3)
	assert.Equal(t, "enqueue", actions[0].Name)
	assert.Equal(t, "player", actions[0].Processor)
	require.Len(t, actions[0].Params, 3)
	assert.Equal(t, web.ParamJSON{Name: "playlist", Type: "objref"}, actions[0].Params[0])
	assert.Equal(t, "u32", actions[0].Params[1].Type)
	require.NotNil(t, actions[0].Params[1].Default)
	assert.True(t, actions[0].Params[2].Optional)
	assert.Empty(t, actions[1].Params)

	var done map[string]string
	status := f.getJSON(t, "/obj/action/player/enqueue/media:t1/playlist=media:p1,position=3", &done)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", done["status"])

	var started map[string]string
	status = f.getJSON(t, "/obj/action/player/scan/media:t2", &started)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "processing", started["status"])

	executed := f.player.Executed()
	require.Len(t, executed, 2)
	assert.Equal(t, "enqueue", executed[0].Action)
	assert.Equal(t, "media:t1", executed[0].Ref)
	assert.Contains(t, executed[0].Params, "playlist")
	assert.Equal(t, executed[1].ID, started["progress"])
}

func TestActionParamWithoutValue(t *testing.T) {
	f := newFixture(t)

	var body map[string]string
	status := f.getJSON(t, "/obj/action/player/enqueue/media:t1/playlist=media:p1,shuffle", &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "missing-param-value:shuffle", body["error"])
	assert.Empty(t, f.player.Executed())
}

func TestEvents(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/obj/events?names=played"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var ok map[string]string
	f.getJSON(t, "/obj/notify/skipped/media:t1", &ok)
	f.getJSON(t, "/obj/notify/played/media:t2", &ok)
	assert.Equal(t, "success", ok["status"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var n notify.Notification
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, notify.Notification{Name: "played", ObjRef: "media:t2"}, n)
}

func TestEventsRejectForeignOrigin(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/obj/events"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNotifyRejectsMalformedRef(t *testing.T) {
	f := newFixture(t)

	var body map[string]string
	status := f.getJSON(t, "/obj/notify/played/nocolon", &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "malformed-oid:nocolon", body["error"])
}

func TestUIRoundTrip(t *testing.T) {
	f := newFixture(t)

	status, page := f.get(t, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, page, "media (7 objects)")
	assert.Equal(t, 1, f.sessions.Len())

	f.media.Add("t6", []string{"track"}, "title", "Flamenco Sketches")

	// The refresh button holds the only handler of the page.
	var patch map[string]string
	require.Equal(t, http.StatusOK, f.getJSON(t, "/ui/handler/1/", &patch))
	assert.Contains(t, patch["op"], "media (8 objects)")

	f.getJSON(t, "/ui/update/nestor_root,nestor_providers", &patch)
	assert.NotContains(t, patch["op"], "location.reload")

	var missing map[string]string
	status = f.getJSON(t, "/ui/handler/99/x", &missing)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown-handler", missing["error"])
}

func TestUIWithoutSessionReloads(t *testing.T) {
	f := newFixture(t)

	var patch map[string]string
	require.Equal(t, http.StatusOK, f.getJSON(t, "/ui/update/nestor_root", &patch))
	assert.Equal(t, "location.reload();", patch["op"])
}

func TestUIAfterRestartReloads(t *testing.T) {
	backend, err := auxstore.Open(auxstore.DriverMemory, "")
	require.NoError(t, err)
	store := auxstore.New(backend)
	t.Cleanup(func() { _ = store.Close() })

	before := newFixture(t, session.WithStore(store.Sessions()))
	status, _ := before.get(t, "/")
	require.Equal(t, http.StatusOK, status)

	// A new process on the same store; the browser keeps its cookie and
	// its old page.
	after := newFixture(t, session.WithStore(store.Sessions()))
	after.client = before.client

	var patch map[string]string
	require.Equal(t, http.StatusOK, after.getJSON(t, "/ui/update/nestor_root", &patch))
	assert.Equal(t, "location.reload();", patch["op"])
	require.Equal(t, http.StatusOK, after.getJSON(t, "/ui/handler/1/x", &patch))
	assert.Equal(t, "location.reload();", patch["op"])
	assert.Equal(t, 1, after.sessions.Len())

	// Once reloaded the revived session serves round-trips again.
	status, page := after.get(t, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, page, "media (7 objects)")
	require.Equal(t, http.StatusOK, after.getJSON(t, "/ui/handler/1/", &patch))
	assert.NotContains(t, patch["op"], "location.reload")
	assert.Equal(t, 1, after.sessions.Len())
}

func TestUIRateLimit(t *testing.T) {
	f := newFixture(t, session.WithRateLimit(rate.Limit(0), 1))

	status, _ := f.get(t, "/")
	require.Equal(t, http.StatusOK, status)

	status, _ = f.get(t, "/ui/handler/1/")
	assert.Equal(t, http.StatusOK, status)

	var body map[string]string
	status = f.getJSON(t, "/ui/handler/1/", &body)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate-limited", body["error"])
}

func TestUIRoutes(t *testing.T) {
	f := newFixture(t)

	status, _ := f.get(t, "/elsewhere")
	assert.Equal(t, http.StatusNotFound, status)

	resp, err := f.client.Post(f.srv.URL+"/ui/update/x", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatic(t *testing.T) {
	f := newFixture(t)

	status, body := f.get(t, "/web/app.css")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "body{}", body)

	for _, path := range []string{"/web/img", "/web/missing.js", "/web/../web_test.go"} {
		status, _ := f.get(t, path)
		assert.Equal(t, http.StatusNotFound, status, path)
	}
}
