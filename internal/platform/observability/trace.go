package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/requestctx"
)

const (
	cloudTraceHeader = "X-Cloud-Trace-Context"

	attrRequestID        = attribute.Key("ojawa.request_id")
	attrCartScopeKind    = attribute.Key("ojawa.cart.scope_kind")
	attrIdempotentReplay = attribute.Key("ojawa.idempotent_replay")
)

var tracer = otel.Tracer("github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/observability")

// TraceMiddleware continues the Cloud Trace context sent by the load balancer and opens one
// server span per request. Once the handler returns, the span is renamed after the matched
// route and tagged with the request id and the cart scope kind (guest or user).
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestctx.WithScopeSlot(r.Context())
			if remote, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}
			ctx, span := tracer.Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer span.End()

			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
					TraceID:   spanCtx.TraceID().String(),
					SpanID:    spanCtx.SpanID().String(),
					Sampled:   spanCtx.IsSampled(),
					ProjectID: projectID,
				})
				w.Header().Set(cloudTraceHeader, formatCloudTraceHeader(spanCtx))
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(ctx)
			next.ServeHTTP(ww, r)
			finishSpan(span, r, ww)
		})
	}
}

func finishSpan(span trace.Span, r *http.Request, ww middleware.WrapResponseWriter) {
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	route := routePattern(r)
	span.SetName(r.Method + " " + route)

	attrs := []attribute.KeyValue{
		semconv.HTTPRoute(route),
		semconv.HTTPResponseStatusCode(status),
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		attrs = append(attrs, attrRequestID.String(id))
	}
	if kind, _, ok := cartScope(requestctx.Scope(r.Context())); ok {
		attrs = append(attrs, attrCartScopeKind.String(kind))
	}
	if isReplay(ww) {
		attrs = append(attrs, attrIdempotentReplay.Bool(true))
	}
	span.SetAttributes(attrs...)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.scheme", scheme),
		attribute.String("client.address", clientAddress(r)),
	}
	if r.URL != nil && r.URL.Path != "" {
		attrs = append(attrs, attribute.String("url.path", logValue(r.URL.Path, maxRouteLength)))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", logValue(ua, 256)))
	}
	return attrs
}

// parseCloudTraceContext reads "TRACE_ID/SPAN_ID;o=OPTIONS" where TRACE_ID is 32 hex digits
// and SPAN_ID is an unsigned decimal.
func parseCloudTraceContext(header string) (trace.SpanContext, bool) {
	tracePart, rest, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(strings.TrimSpace(tracePart))
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanNum, err := strconv.ParseUint(strings.TrimSpace(spanPart), 10, 64)
	if err != nil || spanNum == 0 {
		return trace.SpanContext{}, false
	}
	var spanID trace.SpanID
	binary.BigEndian.PutUint64(spanID[:], spanNum)

	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func formatCloudTraceHeader(spanCtx trace.SpanContext) string {
	spanID := spanCtx.SpanID()
	option := 0
	if spanCtx.IsSampled() {
		option = 1
	}
	return fmt.Sprintf("%s/%d;o=%d", spanCtx.TraceID(), binary.BigEndian.Uint64(spanID[:]), option)
}
