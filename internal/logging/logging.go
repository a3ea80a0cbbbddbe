// Package logging builds the process-wide structured logger. Grounded on
// DMRHub's cmd.setupLogger: log/slog with github.com/lmittmann/tint for
// colorized, human-readable output, leveled by configuration.
package logging

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Level names accepted by New, matching the four slog levels the rest of
// the pack configures by name rather than numeric value.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// New builds a tint-backed logger at the given level name. Unrecognized
// names fall back to info rather than panicking, so a bad config value
// degrades gracefully instead of taking down startup.
func New(level string) *slog.Logger {
	out := os.Stdout
	var slogLevel slog.Level

	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
		out = os.Stderr
	case LevelError:
		slogLevel = slog.LevelError
		out = os.Stderr
	default:
		slogLevel = slog.LevelInfo
	}

	return slog.New(tint.NewHandler(out, &tint.Options{Level: slogLevel}))
}

// SetDefault builds a logger at level and installs it as slog's package
// default, so library code that calls slog.Info/Error directly picks it up.
func SetDefault(level string) *slog.Logger {
	logger := New(level)
	slog.SetDefault(logger)
	return logger
}
