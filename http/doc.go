// Package http provides a resilient, generic HTTP gateway: URI construction with path
// variables and ordered query parameters, retry with exponential backoff and jitter, and
// JSON decoding into a single value or an ordered collection.
//
// Usage
//
//	g := http.NewBuilder(log).Build()
//	defer g.Close()
//
//	out, err := http.Get(ctx, g, http.Many[Product](), http.Call{
//		Endpoint: http.Endpoint{
//			BaseURL: "https://api.restful-api.dev",
//			Path:    "/objects",
//			Query:   http.NewQuery("id", "1", "id", "7"),
//		},
//	})
//
// Retries
//   - Controlled via Builder.WithRetries(maxAttempts, baseDelay) or Builder.WithPolicy.
//   - Retries occur on:
//   - Transport errors (refused, reset, timeouts)
//   - Pool exhaustion
//   - HTTP 408, 429, 500, 502, 503 and 504
//   - Other statuses, empty bodies and decode failures are not retried.
//   - GET and DELETE are always eligible; POST and PUT unless the policy is strict or the
//     call is marked NonIdempotent.
//
// Backoff Strategy
//   - delay = baseDelay * 2^attempt * U[1-jitter, 1+jitter], capped at MaxDelay.
//   - Defaults: 4 attempts, 2s base, 0.75 jitter, 30s cap.
//
// Notes
//   - Bodies are buffered; each attempt re-sends the same encoded bytes and the same
//     X-Request-ID.
//   - The blocking calls (Get, Post, Put, Delete) and the futures (GetAsync, ...) share
//     one implementation.
package http
