// Package logging holds the daemon's two log surfaces: an operational
// slog-based logger for infrastructure events (Op, OpWithTrace) and an
// execution logger that emits one record per sandbox invocation (Logger,
// ExecutionLog).
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	opLevel  = new(slog.LevelVar)
)

func init() {
	opLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opLevel})))
}

// Op returns the operational logger for daemon and infrastructure events.
// Per-invocation records go through Logger instead; see execution.go.
func Op() *slog.Logger {
	return opLogger.Load()
}

// OpWithTrace returns the operational logger annotated with the trace and
// span ids carried by ctx, so infrastructure log lines emitted during an
// invocation correlate with that invocation's span. Falls back to the plain
// logger when ctx carries no span.
func OpWithTrace(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return opLogger.Load()
	}
	return opLogger.Load().With(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
}

// InitStructured reconfigures the operational logger. format is "text"
// (default) or "json" (Loki/ELK compatible); level is one of debug, info,
// warn, error, defaulting to info.
func InitStructured(format, level string) {
	opLevel.Set(parseLevel(level))

	opts := &slog.HandlerOptions{Level: opLevel}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	opLogger.Store(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
