package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"screener-engine/src/models"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name   string
	logger *slog.Logger
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance. A nil config logs at info level.
func NewLogger(config *models.MConfig, name string) *Logger {
	level := slog.LevelInfo
	if config != nil {
		level = ParseLevel(config.LogLevel)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return &Logger{
		name:   name,
		logger: slog.New(handler).With("component", name),
	}
}

// -----------------------------------------------------------------------------

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// -----------------------------------------------------------------------------

// Named returns a logger sharing the handler under another component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		name:   name,
		logger: l.logger.With("component", name),
	}
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(slog.LevelDebug, format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(slog.LevelWarn, format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(slog.LevelInfo, format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(slog.LevelError, format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.log(slog.LevelError, "CRITICAL: "+format, args...)
	os.Exit(1)
}

// -----------------------------------------------------------------------------

func (l *Logger) log(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}
