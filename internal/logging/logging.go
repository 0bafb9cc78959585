// Package logging is the structured logger shared by the engine, the
// service layer, the RPC surface and the commands. It wraps log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Field is one structured attribute.
type Field = slog.Attr

func String(key, value string) Field                 { return slog.String(key, value) }
func Int(key string, value int) Field                { return slog.Int(key, value) }
func Float(key string, value float64) Field          { return slog.Float64(key, value) }
func Duration(key string, value time.Duration) Field { return slog.Duration(key, value) }
func Any(key string, value any) Field                { return slog.Any(key, value) }

// Err records err under the "error" key. A nil error logs as an empty
// string so the key is still present.
func Err(err error) Field {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Logger is the logging surface the rest of meshtopo depends on.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config selects level, format and destination. Output defaults to stderr
// so command output on stdout stays machine readable.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	AddSource bool
	Output    io.Writer
}

// New builds a slog-backed Logger.
func New(cfg Config) Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var h slog.Handler = slog.NewTextHandler(out, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	}
	return &slogLogger{h: slog.New(h), level: level}
}

// NewFromEnv reads MESHTOPO_LOG_LEVEL and MESHTOPO_LOG_FORMAT, then the
// unprefixed LOG_LEVEL and LOG_FORMAT.
func NewFromEnv() Logger {
	return New(Config{
		Level:     firstEnv("MESHTOPO_LOG_LEVEL", "LOG_LEVEL"),
		Format:    firstEnv("MESHTOPO_LOG_FORMAT", "LOG_FORMAT"),
		AddSource: true,
	})
}

// SetLevel changes the level of a logger made by New, including every
// logger derived from it with With. It reports false for other loggers.
func SetLevel(l Logger, level string) bool {
	s, ok := l.(*slogLogger)
	if !ok {
		return false
	}
	s.level.Set(parseLevel(level))
	return true
}

// Noop returns a logger that discards everything.
func Noop() Logger { return noopLogger{} }

type slogLogger struct {
	h     *slog.Logger
	level *slog.LevelVar
}

func (s *slogLogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return &slogLogger{h: s.h.With(args...), level: s.level}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.h.LogAttrs(ctx, slog.LevelDebug, msg, fields...)
}

func (s *slogLogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.h.LogAttrs(ctx, slog.LevelInfo, msg, fields...)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.h.LogAttrs(ctx, slog.LevelWarn, msg, fields...)
}

func (s *slogLogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.h.LogAttrs(ctx, slog.LevelError, msg, fields...)
}

type noopLogger struct{}

func (noopLogger) With(...Field) Logger                    { return noopLogger{} }
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
