package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	flowKey ctxKey = iota
	runIDKey
	nodeIDKey
)

// Attribute names used for correlation IDs in log records.
const (
	AttrFlow   = "flow"
	AttrRunID  = "run_id"
	AttrNodeID = "node_id"
)

// WithFlow returns a context with the flow name set.
func WithFlow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, flowKey, name)
}

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithNodeID returns a context with the node ID set.
func WithNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey, id)
}

// Flow extracts the flow name from the context, or "" if absent.
func Flow(ctx context.Context) string {
	v, _ := ctx.Value(flowKey).(string)
	return v
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// NodeID extracts the node ID from the context, or "" if absent.
func NodeID(ctx context.Context) string {
	v, _ := ctx.Value(nodeIDKey).(string)
	return v
}

// WithRun sets the flow name and run ID at once.
func WithRun(ctx context.Context, flow, runID string) context.Context {
	return WithRunID(WithFlow(ctx, flow), runID)
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := Flow(ctx); v != "" {
		attrs = append(attrs, slog.String(AttrFlow, v))
	}
	if v := RunID(ctx); v != "" {
		attrs = append(attrs, slog.String(AttrRunID, v))
	}
	if v := NodeID(ctx); v != "" {
		attrs = append(attrs, slog.String(AttrNodeID, v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation IDs from
// the context into every record. Callers log with logger.InfoContext(ctx, ...).
// IDs already bound with Logger.With are not added twice.
type CorrelationHandler struct {
	inner slog.Handler
	bound map[string]bool
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, a := range correlationAttrs(ctx) {
		if !h.bound[a.Key] {
			r.AddAttrs(a)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make(map[string]bool, len(h.bound)+len(attrs))
	for k := range h.bound {
		bound[k] = true
	}
	for _, a := range attrs {
		switch a.Key {
		case AttrFlow, AttrRunID, AttrNodeID:
			bound[a.Key] = true
		}
	}
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs), bound: bound}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name), bound: h.bound}
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds a correlation-aware logger writing text or json to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var inner slog.Handler
	if strings.EqualFold(format, "json") {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(inner))
}
