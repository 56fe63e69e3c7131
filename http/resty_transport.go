package http

import (
	"context"
	"net"
	nethttp "net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestyTransport is a Transport backed by a resty client. Resty's own retry support is
// left disabled; the gateway owns retries.
type RestyTransport struct {
	client *resty.Client
}

// NewRestyTransport creates a resty-backed transport using the connection and timeout
// settings of opts. Concurrency limits are enforced by the underlying net/http transport
// only; use PooledTransport for bounded acquisition with PoolExhaustedError.
func NewRestyTransport(opts PoolOptions) *RestyTransport {
	opts = opts.withDefaults()

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	client := resty.New().
		SetTransport(&nethttp.Transport{
			Proxy:                 nethttp.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          opts.MaxTotal,
			MaxIdleConnsPerHost:   opts.MaxPerRoute,
			MaxConnsPerHost:       opts.MaxPerRoute,
			IdleConnTimeout:       opts.IdleTimeout,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			ResponseHeaderTimeout: opts.ResponseTimeout,
		}).
		SetRetryCount(0)

	return &RestyTransport{client: client}
}

// NewRestyTransportFromClient wraps an existing resty client.
func NewRestyTransportFromClient(client *resty.Client) *RestyTransport {
	return &RestyTransport{client: client}
}

// Send implements Transport.
func (t *RestyTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	r := t.client.R().
		SetContext(ctx).
		SetHeaderMultiValues(req.Headers)
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, classifyTransportError("send", err)
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Headers:    resp.Header(),
	}, nil
}
