package slogx

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Service string
	Version string
	Env     string // e.g. "dev", "prod"
	Level   string // e.g. "debug", "info", "warn", "error"
	Format  string // e.g. "json", "text"
}

// New returns the process logger and installs it as the slog default so
// code paths without an explicit logger still emit the shared attributes.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: cfg.Env == "dev", // Add source info in dev mode
		Level:     parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	attrs := []any{"service", cfg.Service, "env", cfg.Env}
	if cfg.Version != "" {
		attrs = append(attrs, "version", cfg.Version)
	}

	logger := slog.New(handler).With(attrs...)
	slog.SetDefault(logger)
	return logger
}

// parseLevel maps a string to slog.Level.
func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
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

type ctxKey struct{}

// WithContext stores a logger on the context for downstream stages.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached to ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithTokenID returns a context whose logger carries the token entry id.
// Handy when a validation attempt fans out into store calls.
func WithTokenID(ctx context.Context, tokenID string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("token_id", tokenID))
}

// WithKind tags the context logger with the token kind being processed, so
// every stage of a run logs it without repeating the attribute.
func WithKind(ctx context.Context, kind string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("kind", kind))
}
