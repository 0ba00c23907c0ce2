// Package logging adapts log/slog to the es.Logger contract used across the
// module and adds the warning level the contract lacks.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/getpup/pupsourcing/es"
)

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
}

// Warner is implemented by loggers that support the warning level.
type Warner interface {
	Warn(ctx context.Context, msg string, keyvals ...interface{})
}

// Logger is an es.Logger backed by slog.
type Logger struct {
	slog *slog.Logger
}

var (
	_ es.Logger = (*Logger)(nil)
	_ Warner    = (*Logger)(nil)
)

// New creates a logger writing to w.
func New(cfg Config, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{slog: slog.New(handler)}
}

// With returns a logger that adds keyvals to every record.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{slog: l.slog.With(keyvals...)}
}

// Component returns a logger with a component name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

func (l *Logger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	l.log(ctx, slog.LevelDebug, msg, keyvals)
}

func (l *Logger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	l.log(ctx, slog.LevelInfo, msg, keyvals)
}

func (l *Logger) Warn(ctx context.Context, msg string, keyvals ...interface{}) {
	l.log(ctx, slog.LevelWarn, msg, keyvals)
}

func (l *Logger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	l.log(ctx, slog.LevelError, msg, keyvals)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, keyvals []interface{}) {
	if id := CorrelationID(ctx); id != "" {
		keyvals = append([]interface{}{"cycle_id", id}, keyvals...)
	}
	l.slog.Log(ctx, level, msg, keyvals...)
}

// Warn logs at warning level when the logger supports it and at info level otherwise.
// A nil logger discards the record.
func Warn(ctx context.Context, logger es.Logger, msg string, keyvals ...interface{}) {
	if logger == nil {
		return
	}
	if w, ok := logger.(Warner); ok {
		w.Warn(ctx, msg, keyvals...)
		return
	}
	logger.Info(ctx, msg, append(keyvals[:len(keyvals):len(keyvals)], "level", "warn")...)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// correlationIDKey is the context key for correlation IDs.
type correlationIDKey struct{}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID retrieves the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}
