// Package observability configures structured logging for chobo.
//
// Standard output belongs to the conversation, so log lines go to the writer
// passed to Setup (stderr in the binary). Every line written while handling a
// turn carries that turn's trace_id and session_id.
package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/bdobrica/chobo/common/redact"
	"github.com/bdobrica/chobo/common/trace"
)

// ParseLevel maps "debug", "warn" and "error" to their slog levels.
// Anything else is info.
func ParseLevel(level string) slog.Level {
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

// Setup builds a text or JSON logger writing to w, installs it as the slog
// default and returns it.
func Setup(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// WithTrace returns base (or the default logger) with the trace and session
// ids found in ctx attached.
func WithTrace(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	var args []any
	if id := trace.FromContext(ctx); id != "" {
		args = append(args, "trace_id", id)
	}
	if id := trace.SessionFromContext(ctx); id != "" {
		args = append(args, "session_id", id)
	}
	if len(args) == 0 {
		return base
	}
	return base.With(args...)
}

// RedactSecrets strips the given values and any bearer token from msg.
func RedactSecrets(msg string, sensitiveValues ...string) string {
	return redact.Bearer(redact.String(msg, sensitiveValues...))
}
