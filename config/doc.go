// Package config provides configuration management for the nestor daemon.
//
// This package handles loading, layering and validation of the daemon
// configuration from JSON or YAML files and environment variables.
//
// # Core Components
//
// Config: Main configuration structure with one section per subsystem: log,
// control socket, HTTP frontend, sessions, storage, object cache, NATS
// bridge and metrics.
//
// SafeConfig: Thread-safe wrapper using RWMutex and deep cloning to prevent
// concurrent access issues and accidental mutations.
//
// Loader: Loads configuration with layer merging (defaults, then each file
// in order) and environment variable overrides.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/nestor/nestor.yaml")
//	loader.AddLayer("local.json") // Overrides the first layer
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Load is the short form for a single file with validation enabled.
//
// # File Format
//
// Files ending in .json are decoded as JSON, files ending in .yaml or .yml
// as YAML. Both use the same snake_case keys:
//
//	socket:
//	  address: 127.0.0.1:12345
//	session:
//	  expiry: 30m
//	storage:
//	  driver: sqlite
//	  path: /var/lib/nestor/aux.db
//	nats:
//	  enabled: true
//	  url: nats://localhost:4222
//
// Durations are strings accepted by time.ParseDuration, plus a "d" suffix
// for days ("14d"). Plain numbers are read as nanoseconds.
//
// # Environment Variables
//
// Every NESTOR_* variable overrides the matching file value:
//
//	NESTOR_LOG_LEVEL, NESTOR_LOG_FORMAT
//	NESTOR_SOCKET_ADDRESS
//	NESTOR_HTTP_ADDRESS, NESTOR_HTTP_STATIC_DIR
//	NESTOR_SESSION_EXPIRY
//	NESTOR_STORAGE_DRIVER, NESTOR_STORAGE_PATH
//	NESTOR_NATS_URL (also enables the bridge), NESTOR_NATS_TOKEN,
//	NESTOR_NATS_USERNAME, NESTOR_NATS_PASSWORD
//	NESTOR_METRICS_ADDRESS
//
// # Security
//
// Config files are size limited, must be regular files, and relative paths
// may not escape the working directory. JSON nesting depth is bounded.
// String redacts NATS credentials.
package config
