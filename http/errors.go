package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
)

// ClientError is implemented by every classified gateway error.
type ClientError interface {
	error
	Type() ErrorType
	Request() RequestInfo
}

// ErrorType defines the category of a client error.
type ErrorType string

const (
	TypeInvalidBaseURL  ErrorType = "invalid_base_url"
	TypeInvalidEndpoint ErrorType = "invalid_endpoint"
	TypeEncode          ErrorType = "encode"
	TypeTransport       ErrorType = "transport"
	TypePoolExhausted   ErrorType = "pool_exhausted"
	TypeHTTPStatus      ErrorType = "http_status"
	TypeEmptyBody       ErrorType = "empty_body"
	TypeDecode          ErrorType = "decode"
)

// maxSnippetBytes bounds the raw body excerpt shown in error messages
const maxSnippetBytes = 256

// RequestInfo is the request context attached to an error: enough to log it without
// re-deriving anything. Attempt is 1-based; zero means no attempt was made.
type RequestInfo struct {
	Method  string
	URL     string
	Attempt int
}

func (i RequestInfo) suffix() string {
	if i.Method == "" && i.URL == "" {
		return ""
	}
	return fmt.Sprintf(" [%s %s attempt=%d]", i.Method, i.URL, i.Attempt)
}

// Request returns the request context of the error.
func (i *RequestInfo) Request() RequestInfo { return *i }

func (i *RequestInfo) bind(info RequestInfo) { *i = info }

type binder interface {
	bind(RequestInfo)
}

// InvalidBaseURLError reports a base URL without an http/https scheme or host.
type InvalidBaseURLError struct {
	RequestInfo
	BaseURL string
	Reason  string
}

func (e *InvalidBaseURLError) Error() string {
	return fmt.Sprintf("invalid base url %q: %s%s", e.BaseURL, e.Reason, e.suffix())
}

func (e *InvalidBaseURLError) Type() ErrorType { return TypeInvalidBaseURL }

// InvalidEndpointError reports a bad path-variable binding or path template.
type InvalidEndpointError struct {
	RequestInfo
	Path   string
	Reason string
}

func (e *InvalidEndpointError) Error() string {
	return fmt.Sprintf("invalid endpoint %q: %s%s", e.Path, e.Reason, e.suffix())
}

func (e *InvalidEndpointError) Type() ErrorType { return TypeInvalidEndpoint }

// EncodeError reports a request body that could not be serialized.
type EncodeError struct {
	RequestInfo
	Cause error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode request body: %v%s", e.Cause, e.suffix())
}

func (e *EncodeError) Type() ErrorType { return TypeEncode }

func (e *EncodeError) Unwrap() error { return e.Cause }

// TransportError reports a connection, timeout or reset failure while sending.
type TransportError struct {
	RequestInfo
	Op      string
	Timeout bool
	Cause   error
}

func (e *TransportError) Error() string {
	kind := "transport error"
	if e.Timeout {
		kind = "transport timeout"
	}
	return fmt.Sprintf("%s: %s: %v%s", kind, e.Op, e.Cause, e.suffix())
}

func (e *TransportError) Type() ErrorType { return TypeTransport }

func (e *TransportError) Unwrap() error { return e.Cause }

// PoolExhaustedError reports that no pooled connection slot was available in time.
type PoolExhaustedError struct {
	RequestInfo
	Route string
	Cause error
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted for %s: %v%s", e.Route, e.Cause, e.suffix())
}

func (e *PoolExhaustedError) Type() ErrorType { return TypePoolExhausted }

func (e *PoolExhaustedError) Unwrap() error { return e.Cause }

// HTTPStatusError reports a response outside the 2xx band. Body is kept verbatim.
type HTTPStatusError struct {
	RequestInfo
	StatusCode int
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP request failed with status %d%s", e.StatusCode, e.suffix())
}

func (e *HTTPStatusError) Type() ErrorType { return TypeHTTPStatus }

// EmptyBodyError reports a successful response without the body a typed result needs.
type EmptyBodyError struct {
	RequestInfo
	StatusCode int
}

func (e *EmptyBodyError) Error() string {
	return fmt.Sprintf("empty response body with status %d%s", e.StatusCode, e.suffix())
}

func (e *EmptyBodyError) Type() ErrorType { return TypeEmptyBody }

// DecodeError reports a success response whose body does not match the decode target.
// RawBody is the complete body; only Error truncates it.
type DecodeError struct {
	RequestInfo
	Cause   error
	RawBody []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response body: %v (body: %q)%s", e.Cause, e.Snippet(), e.suffix())
}

func (e *DecodeError) Type() ErrorType { return TypeDecode }

func (e *DecodeError) Unwrap() error { return e.Cause }

// Snippet returns the first bytes of the raw body for logging.
func (e *DecodeError) Snippet() string {
	return snippet(e.RawBody)
}

// RetriesExhaustedError wraps the last error once the retry budget is spent.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

func snippet(body []byte) string {
	if len(body) <= maxSnippetBytes {
		return string(body)
	}
	return string(body[:maxSnippetBytes]) + "..."
}

// bindRequest attaches request context to a classified error.
func bindRequest(err error, info RequestInfo) error {
	var b binder
	if errors.As(err, &b) {
		b.bind(info)
	}
	return err
}

// classifyTransportError turns a raw send error into a Transport error.
// Errors that are already classified are returned unchanged.
func classifyTransportError(op string, err error) error {
	var ce ClientError
	if errors.As(err, &ce) {
		return err
	}
	return &TransportError{Op: op, Timeout: isTimeout(err), Cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsErrorType reports whether err is, or wraps, a client error of the given type.
func IsErrorType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	var clientErr ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type() == errorType
	}
	return false
}

// IsHTTPStatusError reports whether err is, or wraps, an HTTP status error with statusCode.
func IsHTTPStatusError(err error, statusCode int) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == statusCode
	}
	return false
}

// IsRetriesExhausted reports whether err surfaced after the retry budget was spent.
func IsRetriesExhausted(err error) bool {
	var exhausted *RetriesExhaustedError
	return errors.As(err, &exhausted)
}

// IsSuccessStatus checks if a status code represents success (2xx).
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

var retryableStatus = map[int]struct{}{
	nethttp.StatusRequestTimeout:      {},
	nethttp.StatusTooManyRequests:     {},
	nethttp.StatusInternalServerError: {},
	nethttp.StatusBadGateway:          {},
	nethttp.StatusServiceUnavailable:  {},
	nethttp.StatusGatewayTimeout:      {},
}

// IsRetryable reports whether err belongs to a transient failure class: transport
// failures, pool exhaustion and the 408/429/500/502/503/504 statuses. Caller
// cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var clientErr ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	switch clientErr.Type() {
	case TypeTransport, TypePoolExhausted:
		return true
	case TypeHTTPStatus:
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			_, ok := retryableStatus[statusErr.StatusCode]
			return ok
		}
		return false
	default:
		return false
	}
}
