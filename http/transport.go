package http

import (
	"context"
	nethttp "net/http"
	"net/url"
	"strings"
)

// Transport sends one physical HTTP request with a fully buffered body.
//
// Implementations return an error only when no response was received; every status code,
// including 5xx, is a Response. Returned errors should be classified (TransportError or
// PoolExhaustedError); unclassified errors are wrapped as TransportError by the gateway.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Send calls f(ctx, req).
func (f TransportFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Request is one physical attempt as seen by a Transport.
type Request struct {
	Method  string
	URL     string
	Headers nethttp.Header
	Body    []byte
}

// Response is a buffered HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
}

// route returns the host[:port] a request is bound for, used for per-route pooling.
func route(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Scheme) + "://" + u.Host
}
