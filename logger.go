package kivo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with kivo-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogPut logs a put operation.
func (l *Logger) LogPut(ctx context.Context, keyLen, valueLen int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "put failed",
			"key_len", keyLen,
			"value_len", valueLen,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "put completed",
			"key_len", keyLen,
			"value_len", valueLen,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, keyLen int, existed bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"key_len", keyLen,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"key_len", keyLen,
			"existed", existed,
		)
	}
}

// LogClear logs a clear operation.
func (l *Logger) LogClear(ctx context.Context, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "clear failed",
			"removed", removed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "clear completed",
			"removed", removed,
		)
	}
}

// LogFlush logs an explicit flush.
func (l *Logger) LogFlush(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed", "error", err)
	} else {
		l.DebugContext(ctx, "flush completed")
	}
}

// LogCheckpoint logs a checkpoint operation.
func (l *Logger) LogCheckpoint(ctx context.Context, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"entries", entries,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint saved",
			"entries", entries,
		)
	}
}

// LogRecovery logs a recovery pass over the snapshot and log.
func (l *Logger) LogRecovery(ctx context.Context, entriesRestored, recordsReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"entries_restored", entriesRestored,
			"records_replayed", recordsReplayed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recovery completed",
			"entries_restored", entriesRestored,
			"records_replayed", recordsReplayed,
		)
	}
}
