package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerKey contextKey = "logger"

// Locator is the part of a download location that identifies it in logs.
type Locator interface {
	Key() string
}

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithLocation scopes logger to a single download.
func WithLocation(logger *slog.Logger, loc Locator) *slog.Logger {
	if loc == nil {
		return logger
	}

	return logger.With("location_key", loc.Key())
}
