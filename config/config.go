package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/nestormc/nestor/errors"
)

// Storage drivers, matching the auxstore driver names.
const (
	StorageDriverSQLite = "sqlite"
	StorageDriverBolt   = "bolt"
	StorageDriverMemory = "memory"
)

// Defaults
const (
	DefaultSocketAddress  = "127.0.0.1:12345"
	DefaultHTTPAddress    = "127.0.0.1:8080"
	DefaultMetricsAddress = "127.0.0.1:9090"
	DefaultNATSURL        = "nats://localhost:4222"
	DefaultNATSPrefix     = "nestor.notify"

	DefaultShutdownTimeout = 30 * time.Second
)

// Config represents the complete daemon configuration
type Config struct {
	Log     LogConfig     `json:"log" yaml:"log"`
	Socket  SocketConfig  `json:"socket" yaml:"socket"`
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	Session SessionConfig `json:"session" yaml:"session"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or text
}

// SocketConfig configures the binary control socket.
type SocketConfig struct {
	Address      string   `json:"address" yaml:"address"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
}

// HTTPConfig configures the web frontend.
type HTTPConfig struct {
	Address   string `json:"address" yaml:"address"`
	StaticDir string `json:"static_dir,omitempty" yaml:"static_dir,omitempty"` // served under /web/
	App       string `json:"app" yaml:"app"`                                   // default application id
	Title     string `json:"title" yaml:"title"`
}

// SessionConfig configures browser sessions.
type SessionConfig struct {
	CookieName string   `json:"cookie_name" yaml:"cookie_name"`
	Expiry     Duration `json:"expiry" yaml:"expiry"`
	Secure     bool     `json:"secure" yaml:"secure"`
	Rate       float64  `json:"rate" yaml:"rate"` // UI round-trips per second
	Burst      int      `json:"burst" yaml:"burst"`
}

// StorageConfig selects the auxiliary property store.
type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

// CacheConfig configures the object cache.
type CacheConfig struct {
	Metrics bool `json:"metrics" yaml:"metrics"` // export per-owner hit and miss counters
}

// NATSConfig configures the optional notification bridge.
type NATSConfig struct {
	Enabled       bool      `json:"enabled" yaml:"enabled"`
	URL           string    `json:"url" yaml:"url"`
	Prefix        string    `json:"prefix" yaml:"prefix"`
	Name          string    `json:"name,omitempty" yaml:"name,omitempty"`
	Username      string    `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string    `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string    `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects int       `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration  `json:"reconnect_wait" yaml:"reconnect_wait"`
	TLS           *TLSFiles `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// TLSFiles locates PEM files for a TLS client. CAFile may be empty to use
// the system roots.
type TLSFiles struct {
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path" yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Socket: SocketConfig{Address: DefaultSocketAddress, WriteTimeout: Duration(10 * time.Second)},
		HTTP:   HTTPConfig{Address: DefaultHTTPAddress, App: "nestor", Title: "nestor"},
		Session: SessionConfig{
			CookieName: "nestor_sid",
			Expiry:     Duration(30 * time.Minute),
			Rate:       20,
			Burst:      40,
		},
		Storage: StorageConfig{Driver: StorageDriverSQLite, Path: "nestor.db"},
		Cache:   CacheConfig{Metrics: true},
		NATS: NATSConfig{
			URL:           DefaultNATSURL,
			Prefix:        DefaultNATSPrefix,
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{Enabled: true, Address: DefaultMetricsAddress, Path: "/metrics"},
	}
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SafeConfig", "Update", "config cannot be nil")
	}

	// Validate before updating
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	// Every field is a value, so a struct copy is deep.
	copied := *c
	return &copied
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		add("log.format %q is not json or text", c.Log.Format)
	}

	if err := validateAddress(c.Socket.Address); err != nil {
		add("socket.address: %w", err)
	}
	if c.Socket.WriteTimeout < 0 {
		add("socket.write_timeout cannot be negative")
	}
	if err := validateAddress(c.HTTP.Address); err != nil {
		add("http.address: %w", err)
	}
	if c.HTTP.App == "" {
		add("http.app is required")
	}

	if c.Session.Expiry <= 0 {
		add("session.expiry must be positive")
	}
	if c.Session.Rate <= 0 {
		add("session.rate must be positive")
	}
	if c.Session.Burst < 1 {
		add("session.burst must be at least 1")
	}
	if strings.ContainsAny(c.Session.CookieName, " ;=,") {
		add("session.cookie_name %q contains reserved characters", c.Session.CookieName)
	}

	switch c.Storage.Driver {
	case StorageDriverSQLite, StorageDriverBolt:
		if c.Storage.Path == "" {
			add("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case StorageDriverMemory:
	default:
		add("storage.driver %q is not one of sqlite, bolt, memory", c.Storage.Driver)
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			add("nats.url is required when nats is enabled")
		}
		for _, part := range strings.Split(c.NATS.Prefix, ".") {
			if !isValidNATSSubjectPart(part) {
				add("nats.prefix %q is not a valid subject prefix", c.NATS.Prefix)
				break
			}
		}
		if c.NATS.Token != "" && c.NATS.Username != "" {
			add("nats.token and nats.username are mutually exclusive")
		}
		if c.NATS.ReconnectWait <= 0 {
			add("nats.reconnect_wait must be positive")
		}
		if tls := c.NATS.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
			add("nats.tls.cert_file and nats.tls.key_file must be set together")
		}
	}

	if c.Metrics.Enabled {
		if err := validateAddress(c.Metrics.Address); err != nil {
			add("metrics.address: %w", err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			add("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %w", errors.ErrInvalidConfig, errors.Join(problems...)),
		"Config", "Validate", "check configuration")
}

func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with credentials
// redacted.
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}
