// Package observability wires structured logging and Prometheus metrics
// for the daemon.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// LogConfig configures the process-wide logger.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string
	// Format is "text" or "json".
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// SetupLogging installs the configured handler as the slog default, so
// every component logging through slog.With picks it up.
func SetupLogging(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
