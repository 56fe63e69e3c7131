package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	"github.com/coder/quartz"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxTotal        = 200
	DefaultMaxPerRoute     = 50
	DefaultAcquireTimeout  = 5 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultResponseTimeout = 15 * time.Second
	DefaultIdleTimeout     = 90 * time.Second
	DefaultEvictInterval   = time.Minute
)

// PoolOptions configures a PooledTransport. Zero fields take the package defaults.
type PoolOptions struct {
	// MaxTotal bounds in-flight requests across all routes
	MaxTotal int
	// MaxPerRoute bounds in-flight requests per scheme://host[:port]
	MaxPerRoute int
	// AcquireTimeout is how long a request may wait for a free slot before failing with
	// PoolExhaustedError
	AcquireTimeout  time.Duration
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	IdleTimeout     time.Duration
	// EvictInterval is the period of the idle connection sweep
	EvictInterval time.Duration
	Clock         quartz.Clock
}

// DefaultPoolOptions returns the defaults: 200 total, 50 per route, 5s acquire, 10s
// connect, 15s response, 1 minute idle eviction.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxTotal:        DefaultMaxTotal,
		MaxPerRoute:     DefaultMaxPerRoute,
		AcquireTimeout:  DefaultAcquireTimeout,
		ConnectTimeout:  DefaultConnectTimeout,
		ResponseTimeout: DefaultResponseTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		EvictInterval:   DefaultEvictInterval,
		Clock:           quartz.NewReal(),
	}
}

func (o PoolOptions) withDefaults() PoolOptions {
	if err := mergo.Merge(&o, DefaultPoolOptions()); err != nil {
		return DefaultPoolOptions()
	}
	if o.MaxPerRoute > o.MaxTotal {
		o.MaxPerRoute = o.MaxTotal
	}
	return o
}

// PoolStats is a point-in-time view of pool usage.
type PoolStats struct {
	InFlight  int64
	Evictions int64
}

// PooledTransport is a Transport over net/http with bounded total and per-route
// concurrency. Slots are held for the whole exchange, body read included.
type PooledTransport struct {
	opts      PoolOptions
	transport *nethttp.Transport
	client    *nethttp.Client

	total  *semaphore.Weighted
	mu     sync.Mutex
	routes map[string]*semaphore.Weighted

	inFlight  atomic.Int64
	evictions atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPooledTransport creates the transport and starts the idle connection sweep.
// Close stops the sweep.
func NewPooledTransport(opts PoolOptions) *PooledTransport {
	opts = opts.withDefaults()

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &nethttp.Transport{
		Proxy:                 nethttp.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          opts.MaxTotal,
		MaxIdleConnsPerHost:   opts.MaxPerRoute,
		MaxConnsPerHost:       opts.MaxPerRoute,
		IdleConnTimeout:       opts.IdleTimeout,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ResponseTimeout,
		ExpectContinueTimeout: time.Second,
	}

	p := &PooledTransport{
		opts:      opts,
		transport: transport,
		client:    &nethttp.Client{Transport: transport},
		total:     semaphore.NewWeighted(int64(opts.MaxTotal)),
		routes:    make(map[string]*semaphore.Weighted),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	ticker := opts.Clock.NewTicker(opts.EvictInterval, "pool", "evict")
	go p.evictLoop(ticker)
	return p
}

// Options returns the effective options.
func (p *PooledTransport) Options() PoolOptions {
	return p.opts
}

// Stats returns current pool usage.
func (p *PooledTransport) Stats() PoolStats {
	return PoolStats{InFlight: p.inFlight.Load(), Evictions: p.evictions.Load()}
}

// Send implements Transport.
func (p *PooledTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	release, err := p.acquire(ctx, route(req.URL))
	if err != nil {
		return nil, err
	}
	defer release()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := nethttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &InvalidEndpointError{Path: req.URL, Reason: err.Error()}
	}
	if req.Headers != nil {
		httpReq.Header = req.Headers.Clone()
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("send", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransportError("read body", err)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		Headers:    httpResp.Header,
	}, nil
}

// acquire takes a per-route slot and then a global slot, waiting at most AcquireTimeout.
func (p *PooledTransport) acquire(ctx context.Context, rt string) (func(), error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.opts.AcquireTimeout)
	defer cancel()

	perRoute := p.routeSemaphore(rt)
	if err := perRoute.Acquire(acquireCtx, 1); err != nil {
		return nil, p.acquireError(ctx, rt, err)
	}
	if err := p.total.Acquire(acquireCtx, 1); err != nil {
		perRoute.Release(1)
		return nil, p.acquireError(ctx, rt, err)
	}

	p.inFlight.Add(1)
	return func() {
		p.inFlight.Add(-1)
		p.total.Release(1)
		perRoute.Release(1)
	}, nil
}

// acquireError separates the caller's own cancellation from a slot wait timeout.
func (p *PooledTransport) acquireError(ctx context.Context, rt string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &TransportError{Op: "acquire connection", Timeout: errors.Is(ctxErr, context.DeadlineExceeded), Cause: ctxErr}
	}
	return &PoolExhaustedError{Route: rt, Cause: err}
}

func (p *PooledTransport) routeSemaphore(rt string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.routes[rt]
	if !ok {
		s = semaphore.NewWeighted(int64(p.opts.MaxPerRoute))
		p.routes[rt] = s
	}
	return s
}

func (p *PooledTransport) evictLoop(ticker *quartz.Ticker) {
	defer close(p.done)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.transport.CloseIdleConnections()
			p.evictions.Add(1)
		}
	}
}

// Close stops the eviction sweep and closes idle connections. In-flight requests are
// not interrupted. Close is idempotent.
func (p *PooledTransport) Close() error {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		p.transport.CloseIdleConnections()
	})
	return nil
}
