package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a production-friendly structured logger.
// level overrides the env default (debug for local/dev, info elsewhere) when set.
// No business logic should depend on logging implementation details.
func New(appEnv, level string) *slog.Logger {
	return newJSON(os.Stdout, appEnv, level)
}

func newJSON(w io.Writer, appEnv, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelFor(appEnv, level)})
	return slog.New(h)
}

func levelFor(appEnv, level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if appEnv == "local" || appEnv == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
