package trace

import (
	"context"
	"log/slog"
)

type traceIDKey struct{}

// ContextWithTraceID returns a copy of ctx carrying traceID.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace id carried by ctx, if any.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDKey{}).(string)
	return id, ok && id != ""
}

// LogHandler wraps a slog.Handler and adds a trace_id attribute to records
// logged with a context that carries one.
type LogHandler struct {
	parent slog.Handler
}

// NewLogHandler wraps parent.
func NewLogHandler(parent slog.Handler) *LogHandler {
	return &LogHandler{parent: parent}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.parent.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, record slog.Record) error {
	if id, ok := TraceIDFromContext(ctx); ok {
		record.AddAttrs(slog.String("trace_id", id))
	}
	return h.parent.Handle(ctx, record)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{parent: h.parent.WithAttrs(attrs)}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{parent: h.parent.WithGroup(name)}
}
