package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey contextKey = "ojawa/requestctx/logger"
	traceContextKey  contextKey = "ojawa/requestctx/trace"
	scopeContextKey  contextKey = "ojawa/requestctx/cart-scope"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

type scopeSlot struct {
	mu    sync.Mutex
	value string
}

// WithScopeSlot installs a slot that WithScope fills in from deeper handlers, so outer
// middleware can read the cart scope after the request has been served. A context that
// already carries a slot is returned unchanged, so every middleware layer shares one slot.
func WithScopeSlot(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Value(scopeContextKey).(*scopeSlot); ok {
		return ctx
	}
	return context.WithValue(ctx, scopeContextKey, &scopeSlot{})
}

// WithScope records the cart scope ("guest:<id>" or "user:<uid>") resolved for the request.
// An existing slot is filled in place.
func WithScope(ctx context.Context, scope string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if slot, ok := ctx.Value(scopeContextKey).(*scopeSlot); ok {
		slot.mu.Lock()
		slot.value = scope
		slot.mu.Unlock()
		return ctx
	}
	return context.WithValue(ctx, scopeContextKey, &scopeSlot{value: scope})
}

// Scope returns the cart scope resolved for the request, or "" before resolution.
func Scope(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	slot, ok := ctx.Value(scopeContextKey).(*scopeSlot)
	if !ok {
		return ""
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.value
}
