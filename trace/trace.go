// Package trace carries request identifiers across outbound calls. A logical request keeps
// one id for all of its attempts so that upstream logs can correlate retries.
package trace

import (
	"context"
	nethttp "net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"

	// HeaderXRequestID is the header used to propagate the request id
	HeaderXRequestID = "X-Request-ID"
	// HeaderTraceParent is the W3C trace context header name
	HeaderTraceParent = "traceparent"
)

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// EnsureRequestID returns ctx unchanged when it already carries an id, otherwise a child
// context holding a freshly generated one.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id, ok := RequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := NewRequestID()
	return WithRequestID(ctx, id), id
}

// NewRequestID generates a random request id.
func NewRequestID() string {
	return uuid.NewString()
}

// Inject writes the request id and the W3C trace context of ctx into h.
// An X-Request-ID already present in h is kept.
func Inject(ctx context.Context, h nethttp.Header) {
	if h.Get(HeaderXRequestID) == "" {
		if id, ok := RequestIDFromContext(ctx); ok {
			h.Set(HeaderXRequestID, id)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
