package telemetry

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestIDHeader is read from inbound requests and echoed on responses.
const RequestIDHeader = "X-Request-Id"

const maxRequestIDLength = 128

var traceContext = propagation.TraceContext{}

type requestKey struct{}

// Request identifies one inbound HTTP request in logs. TraceID and SpanID
// come from a W3C traceparent header when the caller sent one.
type Request struct {
	ID      string
	TraceID string
	SpanID  string
}

// Fields renders the non-empty identifiers as zap fields.
func (r Request) Fields() []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if r.ID != "" {
		fields = append(fields, RequestIDField(r.ID))
	}
	if r.TraceID != "" {
		fields = append(fields, TraceIDField(r.TraceID))
	}
	if r.SpanID != "" {
		fields = append(fields, SpanIDField(r.SpanID))
	}
	return fields
}

// RequestFrom returns the request attached by RequestIDMiddleware.
func RequestFrom(ctx context.Context) (Request, bool) {
	if ctx == nil {
		return Request{}, false
	}
	req, ok := ctx.Value(requestKey{}).(Request)
	return req, ok && req.ID != ""
}

// RequestIDMiddleware tags each HTTP request with an id taken from
// RequestIDHeader when it is sane, or a fresh uuid, plus the caller's trace
// context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := traceContext.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		req := Request{ID: sanitizeRequestID(r.Header.Get(RequestIDHeader))}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		if span := trace.SpanContextFromContext(ctx); span.IsValid() {
			req.TraceID = span.TraceID().String()
			req.SpanID = span.SpanID().String()
		}
		w.Header().Set(RequestIDHeader, req.ID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, requestKey{}, req)))
	})
}

func sanitizeRequestID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxRequestIDLength {
		return ""
	}
	for _, r := range value {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return value
}

// LoggerWithRequest decorates base with the identifiers of the request
// carried by ctx. Work detached from a request logs without them.
func LoggerWithRequest(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	req, ok := RequestFrom(ctx)
	if !ok {
		return base
	}
	return base.With(req.Fields()...)
}
