package memsentry

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with memsentry-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithAddr adds an address field to the logger.
func (l *Logger) WithAddr(addr uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("addr", addr),
	}
}

// WithMode adds a mode field to the logger.
func (l *Logger) WithMode(mode Mode) *Logger {
	return &Logger{
		Logger: l.Logger.With("mode", mode.String()),
	}
}

// LogViolation logs a pipeline violation and the action taken.
func (l *Logger) LogViolation(ctx context.Context, addr uint64, outcome Outcome, action string) {
	l.WarnContext(ctx, "violation detected",
		"addr", addr,
		"outcome", outcome.String(),
		"action", action,
	)
}

// LogHeal logs an applied healing action.
func (l *Logger) LogHeal(ctx context.Context, addr uint64, action string, requested, adjusted uint64) {
	l.InfoContext(ctx, "heal applied",
		"addr", addr,
		"action", action,
		"requested", requested,
		"adjusted", adjusted,
	)
}

// LogFree logs a free operation.
func (l *Logger) LogFree(ctx context.Context, addr uint64, result string) {
	if result == "ok" {
		l.DebugContext(ctx, "free completed",
			"addr", addr,
		)
	} else {
		l.WarnContext(ctx, "free rejected",
			"addr", addr,
			"result", result,
		)
	}
}

// LogEvidence logs an evidence event emission.
func (l *Logger) LogEvidence(ctx context.Context, kind string, detail string) {
	l.InfoContext(ctx, "evidence recorded",
		"kind", kind,
		"detail", detail,
	)
}
