package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// natsImage is the server image used by integration tests.
const natsImage = "nats:2.10-alpine"

// TestServer is a throwaway NATS server running in a container, with a
// client already connected to it.
type TestServer struct {
	URL    string
	Client *Client
}

// NewTestServer starts a container and connects a client. Both are
// released by t.Cleanup. The test fails if the container cannot start.
func NewTestServer(t testing.TB) *TestServer {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        natsImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--port", "4222", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
			),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start NATS container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("NATS container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatalf("NATS container port: %v", err)
	}

	ts := &TestServer{URL: fmt.Sprintf("nats://%s:%s", host, port.Port())}
	ts.Client = ts.Connect(t, WithTimeout(5*time.Second))
	return ts
}

// Connect opens another client on the server, closed by t.Cleanup.
// Reconnection is disabled so that a dead server fails tests quickly.
func (ts *TestServer) Connect(t testing.TB, opts ...ClientOption) *Client {
	t.Helper()
	c, err := NewClient(ts.URL, append([]ClientOption{WithMaxReconnects(0)}, opts...)...)
	if err != nil {
		t.Fatalf("NATS client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("NATS connect %s: %v", ts.URL, err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}
