// Package util holds the shared plumbing the trading binaries lean on:
// structured logging, retries around vendor calls, API rate limiting, and
// the NSE trading calendar.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON slog logger every binary writes to stdout, at
// the configured level. Levels are "debug", "info", "warn" and "error";
// anything else falls back to "info".
func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})

	return slog.New(handler)
}

// SetDefault installs the logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
