package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func serveWithMiddleware(t *testing.T, header http.Header) (Request, *httptest.ResponseRecorder) {
	t.Helper()
	var seen Request
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	for key, values := range header {
		req.Header[key] = values
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, rec
}

func TestRequestIDMiddlewareKeepsCallerID(t *testing.T) {
	seen, rec := serveWithMiddleware(t, http.Header{RequestIDHeader: {"abc-1"}})
	assert.Equal(t, "abc-1", seen.ID)
	assert.Equal(t, "abc-1", rec.Header().Get(RequestIDHeader))
	assert.Empty(t, seen.TraceID)
}

func TestRequestIDMiddlewareReplacesUnsafeID(t *testing.T) {
	for _, value := range []string{strings.Repeat("x", 200), "has space", "tab\tid"} {
		seen, rec := serveWithMiddleware(t, http.Header{RequestIDHeader: {value}})
		assert.NotEqual(t, value, seen.ID)
		assert.Len(t, seen.ID, 36)
		assert.Equal(t, seen.ID, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestIDMiddlewareExtractsTraceparent(t *testing.T) {
	seen, _ := serveWithMiddleware(t, http.Header{
		"Traceparent": {"00-0123456789abcdef0123456789abcdef-0123456789abcdef-01"},
	})
	assert.Equal(t, "0123456789abcdef0123456789abcdef", seen.TraceID)
	assert.Equal(t, "0123456789abcdef", seen.SpanID)
}

func TestLoggerWithRequestAddsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	LoggerWithRequest(context.Background(), base).Info("detached")
	ctx := context.WithValue(context.Background(), requestKey{}, Request{ID: "req-1", TraceID: "t", SpanID: "s"})
	LoggerWithRequest(ctx, base).Info("attached")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].Context)
	fields := entries[1].ContextMap()
	assert.Equal(t, "req-1", fields[FieldRequestID])
	assert.Equal(t, "t", fields[FieldTraceID])
	assert.Equal(t, "s", fields[FieldSpanID])
}
