package main

import (
	"io"
	"log/slog"
	"os"
)

// setupLogger builds the daemon logger. Unknown levels fall back to info
// and unknown formats to JSON; both were validated earlier. Debug logs
// carry their source location.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With(slog.Group("process",
		"name", appName,
		"version", Version,
		"pid", os.Getpid(),
	))
}
