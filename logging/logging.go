// Package logging builds the process-wide structured logger.
//
// The level threshold is fixed when the logger is constructed; records
// below it are discarded by the handler before any formatting work
// happens. Per-connection loggers are derived with WithTrace so that
// every record for one session carries the same trace_id, joinable with
// records from collaborating services that adopt the same id.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// TraceKey is the attribute name that correlates all log records of one
// session.
const TraceKey = "trace_id"

// New constructs a logger writing JSON records to w at the given level.
// level is one of "debug", "info", "warn", "error" (case-insensitive).
// debug is a legacy boolean alias: when set, the threshold is forced to
// debug regardless of level. Unrecognized levels fall back to info.
func New(w io.Writer, level string, debug bool) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level, debug),
	})
	return slog.New(h)
}

// ParseLevel maps a level name plus the legacy debug flag to a slog level.
func ParseLevel(level string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithTrace derives a logger that stamps trace_id on every record.
func WithTrace(logger *slog.Logger, traceID string) *slog.Logger {
	return logger.With(TraceKey, traceID)
}
