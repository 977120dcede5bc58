package natsclient_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestormc/nestor/natsclient"
	"github.com/nestormc/nestor/notify"
	"github.com/nestormc/nestor/testutil"
)

type recorder struct {
	mu   sync.Mutex
	seen []notify.Notification
}

func (r *recorder) handle(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.seen...)
}

func runBridge(t *testing.T, b *natsclient.Bridge, tr *testutil.MockTransport, subs int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("bridge did not stop")
		}
	})
	testutil.WaitFor(t, time.Second, func() bool { return tr.Subscriptions() >= subs })
}

func TestBridge_Forwards(t *testing.T) {
	tr := testutil.NewMockTransport()
	bus := notify.NewBus()
	b, err := natsclient.NewBridge(bus, tr, natsclient.WithBridgeOrigin("a"))
	require.NoError(t, err)
	runBridge(t, b, tr, 1)
	// the bridge observes the bus after subscribing
	testutil.WaitFor(t, time.Second, func() bool {
		bus.Notify("probe", "")
		return len(tr.Messages("")) > 0
	})

	bus.Notify("media:track-updated", "media:t1")

	subject := "nestor.notify.media:track-updated"
	testutil.WaitForMessageCount(t, tr, subject, 1, time.Second)
	msg := tr.Messages(subject)[0]
	assert.Equal(t, "a", msg.Origin)
	assert.Equal(t, "media:t1", string(msg.Data))
	assert.Equal(t, subject, b.Subject("media:track-updated"))
}

func TestBridge_ConnectsProcesses(t *testing.T) {
	tr := testutil.NewMockTransport()
	busA, busB := notify.NewBus(), notify.NewBus()

	a, err := natsclient.NewBridge(busA, tr, natsclient.WithBridgeOrigin("a"))
	require.NoError(t, err)
	b, err := natsclient.NewBridge(busB, tr, natsclient.WithBridgeOrigin("b"))
	require.NoError(t, err)
	runBridge(t, a, tr, 1)
	runBridge(t, b, tr, 2)

	var onA, onB recorder
	busA.Register("changed", onA.handle)
	busB.Register("changed", onB.handle)

	testutil.WaitFor(t, time.Second, func() bool {
		busA.Notify("changed", "media:t2")
		return len(onB.all()) > 0
	})

	got := onB.all()[0]
	assert.Equal(t, notify.Notification{Name: "changed", ObjRef: "media:t2", Origin: "a"}, got)

	// A saw only its own local notifications; nothing came back from B.
	time.Sleep(50 * time.Millisecond)
	for _, n := range onA.all() {
		assert.Empty(t, n.Origin)
	}
	for _, msg := range tr.Messages("") {
		assert.Equal(t, "a", msg.Origin, "relayed notification was forwarded again")
	}
}

func TestBridge_IgnoresOwnOrigin(t *testing.T) {
	tr := testutil.NewMockTransport()
	bus := notify.NewBus()
	b, err := natsclient.NewBridge(bus, tr, natsclient.WithBridgeOrigin("self"), natsclient.WithPrefix("x.y."))
	require.NoError(t, err)
	runBridge(t, b, tr, 1)

	var rec recorder
	bus.Register("ping", rec.handle)

	ctx := context.Background()
	require.NoError(t, tr.Publish(ctx, natsclient.Message{Subject: "x.y.ping", Origin: "self", Data: []byte("r")}))
	require.NoError(t, tr.Publish(ctx, natsclient.Message{Subject: "x.y.ping", Origin: "other", Data: []byte("r")}))
	require.NoError(t, tr.Publish(ctx, natsclient.Message{Subject: "elsewhere.ping", Origin: "other"}))

	seen := rec.all()
	require.Len(t, seen, 1)
	assert.Equal(t, "other", seen[0].Origin)
	assert.Equal(t, int64(1), b.Stats().Received)
}

func TestBridge_SkipsInvalidNames(t *testing.T) {
	tr := testutil.NewMockTransport()
	bus := notify.NewBus()
	b, err := natsclient.NewBridge(bus, tr)
	require.NoError(t, err)
	runBridge(t, b, tr, 1)

	testutil.WaitFor(t, time.Second, func() bool {
		bus.Notify("has space", "")
		return b.Stats().Skipped > 0
	})
	bus.Deliver(notify.Notification{Name: "relayed", Origin: "elsewhere"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, tr.Messages("nestor.notify.relayed"))
	assert.Empty(t, tr.Messages("nestor.notify.has space"))
}

func TestNewBridge_Invalid(t *testing.T) {
	_, err := natsclient.NewBridge(nil, testutil.NewMockTransport())
	assert.Error(t, err)
	_, err = natsclient.NewBridge(notify.NewBus(), nil)
	assert.Error(t, err)
}

func TestBridge_UsesClientOrigin(t *testing.T) {
	c, err := natsclient.NewClient("nats://127.0.0.1:1", natsclient.WithOrigin("proc-1"))
	require.NoError(t, err)
	b, err := natsclient.NewBridge(notify.NewBus(), c)
	require.NoError(t, err)
	assert.Equal(t, "proc-1", b.Origin())
	assert.Equal(t, "nats-bridge", b.Name())
}

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"a.>", "a.b", true},
		{"a.>", "a.b.c", true},
		{"a.>", "a", false},
		{"a.*", "a.b", true},
		{"a.*", "a.b.c", false},
		{"a.b", "a.b", true},
		{"a.b", "a.c", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, testutil.SubjectMatches(tt.pattern, tt.subject), "%s ~ %s", tt.pattern, tt.subject)
	}
}
