package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestormc/nestor/config"
	"github.com/nestormc/nestor/ipc"
	"github.com/nestormc/nestor/service"
	"github.com/nestormc/nestor/testutil"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, cfg *CLIConfig)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg *CLIConfig) {
				assert.Empty(t, cfg.LogLevel)
				assert.Equal(t, config.DefaultShutdownTimeout, cfg.ShutdownTimeout)
			},
		},
		{
			name: "overrides",
			args: []string{"-c", "nestor.yaml", "-log-level", "debug", "-log-format", "text", "-shutdown-timeout", "5s"},
			check: func(t *testing.T, cfg *CLIConfig) {
				assert.Equal(t, "nestor.yaml", cfg.ConfigPath)
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "text", cfg.LogFormat)
				assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
			},
		},
		{name: "bad level", args: []string{"-log-level", "loud"}, wantErr: true},
		{name: "bad format", args: []string{"-log-format", "xml"}, wantErr: true},
		{name: "bad timeout", args: []string{"-shutdown-timeout", "0s"}, wantErr: true},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestRun_Version(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &stdout, io.Discard))
	assert.Equal(t, "nestord version "+Version+"\n", stdout.String())
}

func TestRun_Validate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("storage:\n  driver: memory\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  driver: floppy\n"), 0o600))

	var logs bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", good, "-validate"}, io.Discard, &logs))
	assert.Contains(t, logs.String(), "Configuration is valid")

	err := run(context.Background(), []string{"-config", bad, "-validate"}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Socket.Address = "127.0.0.1:0"
	cfg.HTTP.Address = "127.0.0.1:0"
	cfg.Storage.Driver = config.StorageDriverMemory
	cfg.Metrics.Enabled = false
	cfg.NATS.Enabled = false
	return cfg
}

func TestDaemon_ServesAndStops(t *testing.T) {
	logger := setupLogger(io.Discard, "debug", "text")
	d, err := newDaemon(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	defer d.close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.serve(ctx, 5*time.Second) }()

	testutil.WaitFor(t, 5*time.Second, func() bool { return d.ipc.Addr() != nil }, "control socket not listening")
	conn, err := ipc.Dial(ctx, d.ipc.Addr().String())
	require.NoError(t, err)

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	objs, err := conn.Get(reqCtx, "nestor:workers", "nestor:sessions")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	ipcState, ok := objs[0].Props.Get("ipc")
	require.True(t, ok)
	state, _ := ipcState.AsMap().Get("state")
	assert.Equal(t, string(service.StateRunning), state.AsString())
	require.NoError(t, conn.Close())

	testutil.WaitFor(t, 5*time.Second, func() bool {
		resp, err := http.Get("http://" + d.web.Address() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "web frontend not serving")
	assert.Equal(t, 1, d.sessions.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_BadStorage(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "floppy"
	_, err := newDaemon(context.Background(), cfg, setupLogger(io.Discard, "info", "json"))
	require.Error(t, err)
}
