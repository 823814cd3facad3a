// Package log carries a *slog.Logger through contexts. Every logger writes
// JSON to stdout at the level set with SetDefaultLogLevel.
package log

import (
	"context"
	"log/slog"
	"os"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	}))
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
}

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger from the context. If no logger is found, it returns the default logger.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithAttrs returns a context whose logger adds attrs to every record.
func WithAttrs(ctx context.Context, attrs ...any) context.Context {
	return With(ctx, Ctx(ctx).With(attrs...))
}

// WithUser tags the context logger with the user the work is done for.
func WithUser(ctx context.Context, userID string) context.Context {
	return WithAttrs(ctx, slog.String("userID", userID))
}

// Default returns the logger used when a context carries none.
func Default() *slog.Logger {
	return defaultLogger
}

// SetDefaultLogLevel changes the level of the default logger and of every
// logger derived from it.
func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}
