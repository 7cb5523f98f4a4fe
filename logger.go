package vecstore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with vecstore-specific context.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithVector adds a vector name field to the logger.
func (l *Logger) WithVector(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("vector", name),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, name string, offset uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"vector", name,
			"offset", offset,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"vector", name,
			"offset", offset,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, name string, offset uint32, changed bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"vector", name,
			"offset", offset,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"vector", name,
			"offset", offset,
			"changed", changed,
		)
	}
}

// LogMigration logs a storage conversion.
func (l *Logger) LogMigration(ctx context.Context, name, from, to string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "migration failed",
			"vector", name,
			"from", from,
			"to", to,
			"copied", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "migration completed",
			"vector", name,
			"from", from,
			"to", to,
			"vectors", count,
		)
	}
}

// LogFlush logs a flush of all storages.
func (l *Logger) LogFlush(ctx context.Context, storages int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"storages", storages,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"storages", storages,
			"duration", duration,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, id string, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"id", id,
			"entries", entries,
		)
	}
}

// LogRecovery logs the opening of a persisted storage.
func (l *Logger) LogRecovery(ctx context.Context, name, kind string, vectors, deleted int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "storage recovery failed",
			"vector", name,
			"kind", kind,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "storage recovered",
			"vector", name,
			"kind", kind,
			"vectors", vectors,
			"deleted", deleted,
		)
	}
}
