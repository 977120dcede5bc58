package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/pkg/retry"
)

// ClientOption configures a Client. Options that reject their argument
// make NewClient fail.
type ClientOption func(*Client) error

func set(f func(c *Client)) ClientOption {
	return func(c *Client) error {
		f(c)
		return nil
	}
}

func positive(name string, d time.Duration, f func(c *Client)) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
		f(c)
		return nil
	}
}

// Connection.

// WithName names the connection on the server.
func WithName(name string) ClientOption { return set(func(c *Client) { c.clientName = name }) }

func WithCredentials(username, password string) ClientOption {
	return set(func(c *Client) { c.username, c.password = username, password })
}

func WithToken(token string) ClientOption { return set(func(c *Client) { c.token = token }) }

// WithTLS enables TLS. certFile and keyFile go together; caFile may be
// empty to use the system roots.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		if (certFile == "") != (keyFile == "") {
			return fmt.Errorf("tls: certificate and key must be set together")
		}
		c.tlsEnabled = true
		c.tlsCertFile, c.tlsKeyFile, c.tlsCAFile = certFile, keyFile, caFile
		return nil
	}
}

// WithOrigin replaces the generated origin id stamped on relayed
// notifications.
func WithOrigin(origin string) ClientOption {
	return func(c *Client) error {
		if origin == "" {
			return fmt.Errorf("empty origin")
		}
		c.origin = origin
		return nil
	}
}

// Timing.

func WithTimeout(d time.Duration) ClientOption {
	return positive("timeout", d, func(c *Client) { c.timeout = d })
}

func WithPingInterval(d time.Duration) ClientOption {
	return positive("ping interval", d, func(c *Client) { c.pingInterval = d })
}

func WithDrainTimeout(d time.Duration) ClientOption {
	return positive("drain timeout", d, func(c *Client) { c.drainTimeout = d })
}

// WithMaxReconnects bounds reconnection attempts of an established
// connection; -1 retries forever.
func WithMaxReconnects(n int) ClientOption { return set(func(c *Client) { c.maxReconnects = n }) }

func WithReconnectWait(d time.Duration) ClientOption {
	return positive("reconnect wait", d, func(c *Client) { c.reconnectWait = d })
}

// Failure handling.

// WithRetry sets the backoff of the initial Connect.
func WithRetry(cfg retry.Config) ClientOption { return set(func(c *Client) { c.retry = cfg }) }

// WithCircuitBreakerThreshold opens the circuit after n failed connection
// attempts. Values below 1 keep the default of 5.
func WithCircuitBreakerThreshold(n int32) ClientOption {
	return set(func(c *Client) {
		if n >= 1 {
			c.circuitThreshold = n
		}
	})
}

// WithMaxBackoff caps how long an open circuit waits. Values under a second
// keep the default of a minute.
func WithMaxBackoff(d time.Duration) ClientOption {
	return set(func(c *Client) {
		if d >= time.Second {
			c.maxBackoff = d
		}
	})
}

// Observability.

func WithLogger(logger *slog.Logger) ClientOption {
	return set(func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	})
}

// WithMetrics reports connection status and reconnects to registry.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return set(func(c *Client) { c.registry = registry })
}

func WithDisconnectCallback(fn func(error)) ClientOption {
	return set(func(c *Client) { c.onDisconnect = fn })
}

func WithReconnectCallback(fn func()) ClientOption {
	return set(func(c *Client) { c.onReconnect = fn })
}
