// Package logger provides structured logging setup for StageSync.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/calebhart/stagesync/internal/config"
)

// level is shared by every logger built with New so the minimum level
// can be changed at runtime via SetLevel.
var level = new(slog.LevelVar)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// With Async enabled, records pass through a buffered AsyncHandler;
// the returned Closer must be closed on shutdown to flush it.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level.Set(parseLevel(cfg.Level))

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, 4096, 1)
		handler = ah
		closer = ah
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// SetLevel applies a new minimum level to all loggers created by New.
// Used by config hot reload.
func SetLevel(s string) {
	level.Set(parseLevel(s))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
