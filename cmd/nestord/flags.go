package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/nestormc/nestor/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

// parseFlags reads args. Log settings left empty keep the values of the
// configuration file.
func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.ConfigPath, "config", os.Getenv(config.EnvPrefix+"_CONFIG"),
		"Path to a JSON or YAML configuration file (env: NESTOR_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", os.Getenv(config.EnvPrefix+"_CONFIG"),
		"Shorthand for -config")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format: json, text")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", config.DefaultShutdownTimeout,
		"Graceful shutdown timeout")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, `%s - media object daemon

Usage: %s [options]

Options:
`, appName, appName)
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(stderr, `
Environment variables named NESTOR_<SECTION>_<FIELD> override the
configuration file, for example NESTOR_HTTP_ADDRESS or NESTOR_NATS_URL.

Version: %s
`, Version)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, validateFlags(cfg)
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}
