package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/url"
	"slices"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/gaborage/restgate/codec"
	"github.com/gaborage/restgate/http/internal/tracking"
	"github.com/gaborage/restgate/logger"
	"github.com/gaborage/restgate/trace"
)

const (
	tracerName = "restgate/http-client"

	headerAccept      = "Accept"
	headerContentType = "Content-Type"
	mediaTypeJSON     = "application/json"
)

// Call is the caller's part of a logical request.
type Call struct {
	Endpoint Endpoint
	// Headers are applied after the gateway defaults. Keys are case-insensitive; on a
	// case-only collision the key that sorts last wins.
	Headers map[string]string
	// Body is encoded with the gateway codec; nil sends no body
	Body        any
	Idempotency Idempotency
}

// Stats contains execution statistics of one logical request.
type Stats struct {
	Attempts    int
	ElapsedTime time.Duration
	// CallCount is the gateway-wide sequence number of the logical request
	CallCount int64
}

// Outcome is the result of a successful logical request.
type Outcome[R any] struct {
	Value      R
	StatusCode int
	Headers    nethttp.Header
	Stats      Stats
}

// Gateway orchestrates logical requests: build URI, send, classify, decode or retry.
// A Gateway is safe for concurrent use; all per-request state is local to each call.
type Gateway struct {
	transport Transport
	codec     *codec.Codec
	policy    Policy
	headers   nethttp.Header
	limiter   *rate.Limiter
	clock     quartz.Clock
	logger    logger.Logger
	tracer    oteltrace.Tracer
	ownsPool  bool
	callCount atomic.Int64
}

// Builder provides a fluent interface for configuring a Gateway.
type Builder struct {
	transport Transport
	pool      PoolOptions
	codec     *codec.Codec
	policy    Policy
	headers   nethttp.Header
	limiter   *rate.Limiter
	clock     quartz.Clock
	logger    logger.Logger
	tracing   oteltrace.TracerProvider
}

// NewBuilder creates a gateway builder with the default policy, JSON accept header and a
// pooled net/http transport.
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	headers := make(nethttp.Header)
	headers.Set(headerAccept, mediaTypeJSON)
	return &Builder{
		policy:  DefaultPolicy(),
		headers: headers,
		logger:  log,
	}
}

// WithTransport replaces the default PooledTransport.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

// WithPoolOptions configures the default PooledTransport. Ignored when WithTransport is used.
func (b *Builder) WithPoolOptions(opts PoolOptions) *Builder {
	b.pool = opts
	return b
}

// WithCodec sets the codec used for request bodies and responses.
func (b *Builder) WithCodec(c *codec.Codec) *Builder {
	b.codec = c
	return b
}

// WithPolicy replaces the retry policy.
func (b *Builder) WithPolicy(p Policy) *Builder {
	b.policy = p
	return b
}

// WithRetries sets the total number of attempts and the backoff base delay.
func (b *Builder) WithRetries(maxAttempts int, baseDelay time.Duration) *Builder {
	b.policy.MaxAttempts = maxAttempts
	b.policy.BaseDelay = baseDelay
	return b
}

// WithJitter sets the jitter factor, clamped to [0, 1).
func (b *Builder) WithJitter(factor float64) *Builder {
	b.policy.JitterFactor = factor
	return b
}

// WithStrictIdempotency stops POST and PUT from being retried unless a call is marked Idempotent.
func (b *Builder) WithStrictIdempotency(strict bool) *Builder {
	b.policy.StrictIdempotency = strict
	return b
}

// WithDefaultHeader adds a header sent with every request.
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.headers.Set(key, value)
	return b
}

// WithRateLimit throttles physical attempts to r per second with the given burst.
func (b *Builder) WithRateLimit(r float64, burst int) *Builder {
	if r <= 0 {
		b.limiter = nil
		return b
	}
	if burst < 1 {
		burst = 1
	}
	b.limiter = rate.NewLimiter(rate.Limit(r), burst)
	return b
}

// WithClock sets the clock used for backoff sleeps and timings.
func (b *Builder) WithClock(clock quartz.Clock) *Builder {
	b.clock = clock
	return b
}

// WithTracerProvider sets the provider for request spans. Defaults to the global provider.
func (b *Builder) WithTracerProvider(tp oteltrace.TracerProvider) *Builder {
	b.tracing = tp
	return b
}

// Build creates the Gateway.
func (b *Builder) Build() *Gateway {
	g := &Gateway{
		transport: b.transport,
		codec:     b.codec,
		policy:    b.policy,
		headers:   b.headers.Clone(),
		limiter:   b.limiter,
		clock:     b.clock,
		logger:    b.logger,
	}
	tp := b.tracing
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	g.tracer = tp.Tracer(tracerName)
	if g.clock == nil {
		g.clock = quartz.NewReal()
	}
	if g.codec == nil {
		g.codec = codec.New()
	}
	if g.transport == nil {
		pool := b.pool
		if pool.Clock == nil {
			pool.Clock = g.clock
		}
		g.transport = NewPooledTransport(pool)
		g.ownsPool = true
	}
	return g
}

// Codec returns the gateway codec, for registering field maps.
func (g *Gateway) Codec() *codec.Codec {
	return g.codec
}

// Policy returns the retry policy.
func (g *Gateway) Policy() Policy {
	return g.policy
}

// Close stops the pooled transport the gateway created. Transports passed to
// WithTransport are left to the caller.
func (g *Gateway) Close() error {
	if !g.ownsPool {
		return nil
	}
	if c, ok := g.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Get performs a GET and decodes the response into target.
func Get[R any](ctx context.Context, g *Gateway, target Target[R], call Call) (*Outcome[R], error) {
	return Do(ctx, g, nethttp.MethodGet, target, call)
}

// Post performs a POST with call.Body encoded as JSON.
func Post[R any](ctx context.Context, g *Gateway, target Target[R], call Call) (*Outcome[R], error) {
	return Do(ctx, g, nethttp.MethodPost, target, call)
}

// Put performs a PUT with call.Body encoded as JSON.
func Put[R any](ctx context.Context, g *Gateway, target Target[R], call Call) (*Outcome[R], error) {
	return Do(ctx, g, nethttp.MethodPut, target, call)
}

// Delete performs a DELETE. Use None() when no response body is expected.
func Delete[R any](ctx context.Context, g *Gateway, target Target[R], call Call) (*Outcome[R], error) {
	return Do(ctx, g, nethttp.MethodDelete, target, call)
}

// Do runs one logical request with the given method.
//
// URI and body encoding failures are returned immediately. Transport failures and the
// retryable statuses are retried per the policy when the method is eligible; once the
// attempts run out the last error is wrapped in RetriesExhaustedError. Status, empty body
// and decode failures carry the method, URL and attempt number.
func Do[R any](ctx context.Context, g *Gateway, method string, target Target[R], call Call) (*Outcome[R], error) {
	start := g.clock.Now()
	callCount := g.callCount.Add(1)
	ctx, requestID := trace.EnsureRequestID(ctx)
	log := g.logger.WithContext(ctx)

	uri, err := call.Endpoint.URI()
	if err != nil {
		err = bindRequest(err, RequestInfo{Method: method, URL: call.Endpoint.BaseURL + call.Endpoint.Path})
		logFailure(log, method, requestID, err, 0, g.clock.Since(start))
		return nil, err
	}

	body, err := g.encodeBody(call.Body)
	if err != nil {
		err = bindRequest(err, RequestInfo{Method: method, URL: uri})
		logFailure(log, method, requestID, err, 0, g.clock.Since(start))
		return nil, err
	}

	host := hostOf(uri)
	ctx, span := g.tracer.Start(ctx, "HTTP "+method,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", uri),
			attribute.String("server.address", host),
		),
	)
	defer span.End()

	tracking.AddActive(ctx, 1, method, host)
	defer tracking.AddActive(ctx, -1, method, host)

	headers := g.buildHeaders(call.Headers, body != nil)
	trace.Inject(ctx, headers)

	retryable := g.policy.AllowsMethod(method, call.Idempotency)
	rc := newRetryContext(g.policy)

	for {
		info := RequestInfo{Method: method, URL: uri, Attempt: rc.attempts()}

		if err := g.waitRateLimit(ctx); err != nil {
			return nil, g.fail(ctx, span, log, requestID, bindRequest(err, info), rc.attempts(), start)
		}

		resp, err := g.send(ctx, &Request{Method: method, URL: uri, Headers: headers.Clone(), Body: body}, info, host, rc.attempt)
		if err == nil {
			value, decodeErr := Decode(g.codec, target, resp.StatusCode, resp.Body)
			if decodeErr == nil {
				return succeed(ctx, g, span, log, requestID, value, resp, rc.attempts(), callCount, start), nil
			}
			err = decodeErr
		}
		err = bindRequest(err, info)

		if !retryable {
			return nil, g.fail(ctx, span, log, requestID, err, rc.attempts(), start)
		}

		decision := rc.next(err)
		if !decision.Retry {
			if IsRetryable(err) && g.policy.maxAttempts() > 1 {
				err = &RetriesExhaustedError{Attempts: rc.attempts(), Last: err}
			}
			return nil, g.fail(ctx, span, log, requestID, err, rc.attempts(), start)
		}

		errType := errorTypeOf(err)
		tracking.RecordRetry(ctx, method, host, errType)
		span.AddEvent("retry", oteltrace.WithAttributes(
			attribute.Int("http.request.resend_count", rc.attempt),
			attribute.String("error.type", errType),
		))
		log.Warn().
			Str("method", method).
			Str("url", uri).
			Str("request_id", requestID).
			Int("attempt", rc.attempts()).
			Dur("delay", decision.Delay).
			Err(err).
			Msgf("retrying request, attempt %d", rc.attempts())

		if err := g.sleep(ctx, decision.Delay); err != nil {
			return nil, g.fail(ctx, span, log, requestID, bindRequest(err, info), rc.attempts(), start)
		}
	}
}

// send performs one physical attempt and records its metrics.
func (g *Gateway) send(ctx context.Context, req *Request, info RequestInfo, host string, resend int) (*Response, error) {
	logger.IncrementHTTPCounter(ctx)
	g.logger.WithContext(ctx).Debug().
		Str("direction", "outbound").
		Str("method", req.Method).
		Str("url", req.URL).
		Int("attempt", info.Attempt).
		Interface("headers", req.Headers).
		Msg("HTTP gateway request")

	attemptStart := g.clock.Now()
	resp, err := g.transport.Send(ctx, req)
	elapsed := g.clock.Since(attemptStart)

	attempt := tracking.Attempt{Method: req.Method, Host: host, Resend: resend, Duration: elapsed}
	switch {
	case err != nil:
		err = classifyTransportError("send", err)
		attempt.ErrorType = errorTypeOf(err)
	case resp == nil:
		err = &TransportError{Op: "send", Cause: errors.New("transport returned no response")}
		attempt.ErrorType = string(TypeTransport)
	default:
		attempt.StatusCode = resp.StatusCode
	}
	tracking.RecordAttempt(ctx, attempt)
	return resp, err
}

func succeed[R any](ctx context.Context, g *Gateway, span oteltrace.Span, log logger.Logger, requestID string, value R, resp *Response, attempts int, callCount int64, start time.Time) *Outcome[R] {
	elapsed := g.clock.Since(start)
	logger.AddHTTPElapsed(ctx, elapsed)

	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Int("http.request.resend_count", attempts-1),
	)
	span.SetStatus(codes.Ok, "")

	log.Info().
		Str("direction", "inbound").
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Int("attempts", attempts).
		Dur("elapsed", elapsed).
		Int64("call_count", callCount).
		Msg("HTTP gateway response")

	return &Outcome[R]{
		Value:      value,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Stats: Stats{
			Attempts:    attempts,
			ElapsedTime: elapsed,
			CallCount:   callCount,
		},
	}
}

// fail records a terminal failure on the span and the logs and returns err.
func (g *Gateway) fail(ctx context.Context, span oteltrace.Span, log logger.Logger, requestID string, err error, attempts int, start time.Time) error {
	elapsed := g.clock.Since(start)
	logger.AddHTTPElapsed(ctx, elapsed)

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		span.SetAttributes(attribute.Int("http.response.status_code", statusErr.StatusCode))
	}
	span.SetAttributes(attribute.String("error.type", errorTypeOf(err)))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	logFailure(log, requestInfoOf(err).Method, requestID, err, attempts, elapsed)
	return err
}

func (g *Gateway) encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := g.codec.Encode(body)
	if err != nil {
		return nil, &EncodeError{Cause: err}
	}
	return data, nil
}

// buildHeaders merges defaults and per-call headers. Per-call keys are applied in sorted
// order so that case-only collisions resolve the same way on every call.
func (g *Gateway) buildHeaders(callHeaders map[string]string, hasBody bool) nethttp.Header {
	h := g.headers.Clone()
	if h == nil {
		h = make(nethttp.Header)
	}
	keys := make([]string, 0, len(callHeaders))
	for k := range callHeaders {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		h.Set(k, callHeaders[k])
	}
	if hasBody && h.Get(headerContentType) == "" {
		h.Set(headerContentType, mediaTypeJSON)
	}
	return h
}

func (g *Gateway) waitRateLimit(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: "rate limit", Timeout: true, Cause: err}
	}
	return nil
}

// sleep waits for d on the gateway clock, returning early when ctx is done.
func (g *Gateway) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return interrupted(ctx)
	}
	timer := g.clock.NewTimer(d, "gateway", "backoff")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return interrupted(ctx)
	case <-timer.C:
		return nil
	}
}

func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "backoff", Timeout: errors.Is(err, context.DeadlineExceeded), Cause: err}
	}
	return nil
}

func hostOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Host
}

func errorTypeOf(err error) string {
	var ce ClientError
	if errors.As(err, &ce) {
		return string(ce.Type())
	}
	return "unknown"
}

func logFailure(log logger.Logger, method, requestID string, err error, attempts int, elapsed time.Duration) {
	info := requestInfoOf(err)
	log.Error().
		Str("method", method).
		Str("url", info.URL).
		Str("request_id", requestID).
		Str("error_type", errorTypeOf(err)).
		Int("attempts", attempts).
		Dur("elapsed", elapsed).
		Err(err).
		Msg("HTTP gateway request failed")
}

func requestInfoOf(err error) RequestInfo {
	var ce ClientError
	if errors.As(err, &ce) {
		return ce.Request()
	}
	return RequestInfo{}
}
