package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger builds the process logger: JSON on stdout, tagged with the
// service name. The logger is also installed as the slog default so library
// code logging through the package-level functions joins the same stream.
func NewJSONLogger(service, level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})).With(slog.String("service", service))
	slog.SetDefault(logger)
	return logger
}

// Component derives a child logger tagged for one subsystem, so queue, OCR
// and dispatch log lines can be told apart in aggregate.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", name))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
