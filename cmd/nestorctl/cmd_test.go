package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestormc/nestor/ipc"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/protocol"
	"github.com/nestormc/nestor/testutil"
)

func startDaemon(t *testing.T) (string, *testutil.PlayerProcessor) {
	t.Helper()
	m := objects.NewManager()
	player := testutil.NewPlayerProcessor("player")
	require.NoError(t, m.RegisterProvider(testutil.NewMediaProvider()))
	require.NoError(t, m.RegisterProcessor(player))

	s := ipc.NewServer("127.0.0.1:0", ipc.WithHandler(protocol.OpObjects, ipc.ObjectsHandler(m)))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Listen(ctx))
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s.Addr().String(), player
}

func execute(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--address", addr, "--timeout", "5s"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestPing(t *testing.T) {
	addr, _ := startDaemon(t)
	out, err := execute(t, addr, "ping")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)
}

func TestGet(t *testing.T) {
	addr, _ := startDaemon(t)

	out, err := execute(t, addr, "get", "media:t3")
	require.NoError(t, err)
	assert.Contains(t, out, "media:t3 [track,audio]\n")
	assert.Contains(t, out, "  title = Naima\n")

	out, err = execute(t, addr, "--json", "get", "media:p1")
	require.NoError(t, err)
	var objs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &objs))
	require.Len(t, objs, 1)
	assert.Equal(t, "media:p1", objs[0]["objref"])

	_, err = execute(t, addr, "get", "media:missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object-not-found")
}

func TestMatch(t *testing.T) {
	addr, _ := startDaemon(t)

	out, err := execute(t, addr, "match", "media", "--expr", `artist == "Miles Davis"`, "--sort", "title", "--refs")
	require.NoError(t, err)
	assert.Equal(t, "media:t1\nmedia:t2\n", out)

	out, err = execute(t, addr, "match", "media", "--type", "playlist", "--refs")
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("\n")))

	_, err = execute(t, addr, "match", "media", "--expr", "year >=")
	require.Error(t, err)
}

func TestActionsAndDo(t *testing.T) {
	addr, player := startDaemon(t)

	out, err := execute(t, addr, "actions", "player", "media:t1")
	require.NoError(t, err)
	assert.Contains(t, out, "enqueue\n  playlist objref\n  position u32 default 0\n  shuffle bool (optional)\n")

	out, err = execute(t, addr, "do", "player", "enqueue", "media:t1", "playlist=media:p1", "position=2")
	require.NoError(t, err)
	assert.Equal(t, "success\n", out)

	out, err = execute(t, addr, "--json", "do", "player", "scan", "media:t1")
	require.NoError(t, err)
	var status map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "processing", status["status"])

	executed := player.Executed()
	require.Len(t, executed, 2)
	assert.Equal(t, executed[1].ID, status["progress"])

	_, err = execute(t, addr, "do", "player", "enqueue", "media:t1", "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NAME=VALUE")
}

func TestArgs(t *testing.T) {
	_, err := execute(t, "127.0.0.1:1", "get")
	require.Error(t, err)
	_, err = execute(t, "127.0.0.1:1", "actions", "player")
	require.Error(t, err)
}
