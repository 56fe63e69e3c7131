package logger

import (
	"context"
	"sync/atomic"
	"time"
)

type contextKey string

const (
	// httpCounterKey tracks outbound HTTP attempts made on behalf of one caller context
	httpCounterKey contextKey = "http_attempt_counter"
	// httpElapsedKey tracks total outbound HTTP time for the same context
	httpElapsedKey contextKey = "http_elapsed_nanos"
)

// WithHTTPCounter returns a context that accumulates outbound attempt count and elapsed time.
// Callers typically attach it once per inbound request and log the totals when done.
func WithHTTPCounter(ctx context.Context) context.Context {
	counter := int64(0)
	elapsed := int64(0)
	ctx = context.WithValue(ctx, httpCounterKey, &counter)
	return context.WithValue(ctx, httpElapsedKey, &elapsed)
}

// IncrementHTTPCounter records one outbound attempt. No-op without WithHTTPCounter.
func IncrementHTTPCounter(ctx context.Context) {
	if counter, ok := ctx.Value(httpCounterKey).(*int64); ok && counter != nil {
		atomic.AddInt64(counter, 1)
	}
}

// GetHTTPCounter returns the number of attempts recorded in ctx.
func GetHTTPCounter(ctx context.Context) int64 {
	if counter, ok := ctx.Value(httpCounterKey).(*int64); ok && counter != nil {
		return atomic.LoadInt64(counter)
	}
	return 0
}

// AddHTTPElapsed adds d to the elapsed time recorded in ctx.
func AddHTTPElapsed(ctx context.Context, d time.Duration) {
	if elapsed, ok := ctx.Value(httpElapsedKey).(*int64); ok && elapsed != nil {
		atomic.AddInt64(elapsed, int64(d))
	}
}

// GetHTTPElapsed returns the elapsed time recorded in ctx.
func GetHTTPElapsed(ctx context.Context) time.Duration {
	if elapsed, ok := ctx.Value(httpElapsedKey).(*int64); ok && elapsed != nil {
		return time.Duration(atomic.LoadInt64(elapsed))
	}
	return 0
}
