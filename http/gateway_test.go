package http

import (
	"bytes"
	"context"
	"errors"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/restgate/logger"
	"github.com/gaborage/restgate/testing/stub"
	"github.com/gaborage/restgate/trace"
)

const (
	testObjectsPath  = "/objects"
	testObjectPath   = "/objects/{id}"
	testRequestIDHdr = "X-Request-ID"
	testContentType  = "Content-Type"
	testJSONType     = "application/json"
)

func newTestGateway(t *testing.T, configure ...func(*Builder)) *Gateway {
	t.Helper()
	b := NewBuilder(logger.Nop()).
		WithCodec(newTestCodec()).
		WithRetries(DefaultMaxAttempts, time.Millisecond)
	for _, fn := range configure {
		fn(b)
	}
	g := b.Build()
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func objectsCall(base string) Call {
	return Call{Endpoint: Endpoint{BaseURL: base, Path: testObjectsPath}}
}

func TestGetRetriesUntilSuccess(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, "/objects/7",
		stub.Reply{Status: nethttp.StatusServiceUnavailable},
		stub.Reply{Status: nethttp.StatusServiceUnavailable},
		stub.Reply{Body: `{"id":"7","name":"B"}`},
	)
	g := newTestGateway(t)

	out, err := Get(context.Background(), g, Single[object](), Call{Endpoint: Endpoint{
		BaseURL:  srv.URL(),
		Path:     testObjectPath,
		PathVars: map[string]string{"id": "7"},
	}})
	require.NoError(t, err)
	assert.Equal(t, object{ID: "7", Name: "B"}, out.Value)
	assert.Equal(t, nethttp.StatusOK, out.StatusCode)
	assert.Equal(t, 3, out.Stats.Attempts)
	assert.Equal(t, int64(1), out.Stats.CallCount)
	assert.Equal(t, 3, srv.Hits(nethttp.MethodGet, "/objects/7"))
}

func TestGetListEndToEnd(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath, stub.Reply{Body: `[{"id":"1","name":"A"},{"id":"7","name":"B"}]`})
	g := newTestGateway(t)

	call := objectsCall(srv.URL())
	call.Endpoint.Query = NewQuery("id", "1", "id", "7")

	out, err := Get(context.Background(), g, Many[object](), call)
	require.NoError(t, err)
	assert.Equal(t, []object{{ID: "1", Name: "A"}, {ID: "7", Name: "B"}}, out.Value)
	assert.Equal(t, 1, out.Stats.Attempts)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "id=1&id=7", reqs[0].RawQuery)
	assert.Equal(t, testJSONType, reqs[0].Header.Get("Accept"))
	assert.Empty(t, reqs[0].Header.Get(testContentType))
}

func TestInvalidBaseURLMakesNoAttempt(t *testing.T) {
	var sends atomic.Int32
	g := newTestGateway(t, func(b *Builder) {
		b.WithTransport(TransportFunc(func(context.Context, *Request) (*Response, error) {
			sends.Add(1)
			return &Response{StatusCode: nethttp.StatusOK}, nil
		}))
	})

	_, err := Get(context.Background(), g, Single[object](), objectsCall("api.restful-api.dev"))
	require.Error(t, err)
	assert.True(t, IsErrorType(err, TypeInvalidBaseURL))
	assert.False(t, IsRetriesExhausted(err))
	assert.Zero(t, sends.Load())

	var baseErr *InvalidBaseURLError
	require.ErrorAs(t, err, &baseErr)
	assert.Equal(t, nethttp.MethodGet, baseErr.Request().Method)
	assert.Zero(t, baseErr.Request().Attempt)
}

func TestStrictEndpointMakesNoAttempt(t *testing.T) {
	srv := stub.New(t)
	g := newTestGateway(t)

	_, err := Get(context.Background(), g, Single[object](), Call{Endpoint: Endpoint{BaseURL: srv.URL(), Path: testObjectPath, Strict: true}})
	assert.True(t, IsErrorType(err, TypeInvalidEndpoint))
	assert.Empty(t, srv.Requests())
}

func TestPostNotRetriedWhenNonIdempotent(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*Builder)
		call      func(Call) Call
	}{
		{
			name:      "strict policy",
			configure: func(b *Builder) { b.WithStrictIdempotency(true) },
			call:      func(c Call) Call { return c },
		},
		{
			name:      "non-idempotent call",
			configure: func(*Builder) {},
			call:      func(c Call) Call { c.Idempotency = NonIdempotent; return c },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := stub.New(t)
			srv.On(nethttp.MethodPost, testObjectsPath, stub.Reply{Status: nethttp.StatusInternalServerError, Body: `{"error":"boom"}`})
			g := newTestGateway(t, tt.configure)

			call := objectsCall(srv.URL())
			call.Body = object{Name: "new"}
			_, err := Post(context.Background(), g, Single[object](), tt.call(call))

			require.Error(t, err)
			assert.True(t, IsHTTPStatusError(err, nethttp.StatusInternalServerError))
			assert.False(t, IsRetriesExhausted(err))
			assert.Equal(t, 1, srv.Hits(nethttp.MethodPost, testObjectsPath))
		})
	}
}

func TestPostRetriedByDefaultAndWhenMarkedIdempotent(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodPost, testObjectsPath,
		stub.Reply{Status: nethttp.StatusInternalServerError},
		stub.Reply{Status: nethttp.StatusCreated, Body: `{"id":"9","name":"new"}`},
	)

	g := newTestGateway(t, func(b *Builder) { b.WithStrictIdempotency(true) })
	call := objectsCall(srv.URL())
	call.Body = object{Name: "new"}
	call.Idempotency = Idempotent

	out, err := Post(context.Background(), g, Single[object](), call)
	require.NoError(t, err)
	assert.Equal(t, "9", out.Value.ID)
	assert.Equal(t, nethttp.StatusCreated, out.StatusCode)
	assert.Equal(t, 2, out.Stats.Attempts)
}

func TestRetriesExhausted(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath, stub.Reply{Status: nethttp.StatusServiceUnavailable, Body: "try later"})
	g := newTestGateway(t)

	_, err := Get(context.Background(), g, Many[object](), objectsCall(srv.URL()))
	require.Error(t, err)
	assert.True(t, IsRetriesExhausted(err))

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, DefaultMaxAttempts, exhausted.Attempts)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "try later", string(statusErr.Body))
	assert.Equal(t, DefaultMaxAttempts, statusErr.Request().Attempt)
	assert.Equal(t, srv.URL()+testObjectsPath, statusErr.Request().URL)
	assert.Equal(t, DefaultMaxAttempts, srv.Hits(nethttp.MethodGet, testObjectsPath))
}

func TestTerminalFailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		reply   stub.Reply
		errType ErrorType
	}{
		{"not found", stub.Reply{Status: nethttp.StatusNotFound, Body: `{"error":"missing"}`}, TypeHTTPStatus},
		{"bad request", stub.Reply{Status: nethttp.StatusBadRequest}, TypeHTTPStatus},
		{"malformed json", stub.Reply{Body: `{"id":`}, TypeDecode},
		{"empty body", stub.Reply{Status: nethttp.StatusOK}, TypeEmptyBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := stub.New(t)
			srv.On(nethttp.MethodGet, testObjectsPath, tt.reply)
			g := newTestGateway(t)

			_, err := Get(context.Background(), g, Single[object](), objectsCall(srv.URL()))
			require.Error(t, err)
			assert.True(t, IsErrorType(err, tt.errType), "got %v", err)
			assert.False(t, IsRetriesExhausted(err))
			assert.Equal(t, 1, srv.Hits(nethttp.MethodGet, testObjectsPath))

			var ce ClientError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, 1, ce.Request().Attempt)
			assert.Equal(t, nethttp.MethodGet, ce.Request().Method)
		})
	}
}

func TestDeleteWithoutBody(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodDelete, "/objects/7", stub.Reply{Status: nethttp.StatusNoContent})
	g := newTestGateway(t)

	out, err := Delete(context.Background(), g, None(), Call{Endpoint: Endpoint{
		BaseURL:  srv.URL(),
		Path:     testObjectPath,
		PathVars: map[string]string{"id": "7"},
	}})
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusNoContent, out.StatusCode)
}

func TestPostSendsEncodedBodyAndHeaders(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodPost, testObjectsPath, stub.Reply{Body: `{"id":"ff","name":"Apple MacBook Pro 16","data":{"CPU model":"Intel Core i9"}}`})
	g := newTestGateway(t, func(b *Builder) { b.WithDefaultHeader("X-Tenant", "default") })

	call := objectsCall(srv.URL())
	call.Body = object{Name: "Apple MacBook Pro 16", Data: &objectData{CPUModel: "Intel Core i9", HardDiskSize: "1 TB"}}
	call.Headers = map[string]string{"x-tenant": "acme"}

	out, err := Post(context.Background(), g, Single[object](), call)
	require.NoError(t, err)
	require.NotNil(t, out.Value.Data)
	assert.Equal(t, "Intel Core i9", out.Value.Data.CPUModel)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"id":"","name":"Apple MacBook Pro 16","data":{"CPU model":"Intel Core i9","Hard disk size":"1 TB"}}`, string(reqs[0].Body))
	assert.Equal(t, testJSONType, reqs[0].Header.Get(testContentType))
	assert.Equal(t, testJSONType, reqs[0].Header.Get("Accept"))
	assert.Equal(t, "acme", reqs[0].Header.Get("X-Tenant"))
	assert.NotEmpty(t, reqs[0].Header.Get(testRequestIDHdr))
}

func TestRequestIDStableAcrossAttempts(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath,
		stub.Reply{Status: nethttp.StatusBadGateway},
		stub.Reply{Body: `[]`},
	)
	g := newTestGateway(t)

	ctx := trace.WithRequestID(context.Background(), "req-123")
	out, err := Get(ctx, g, Many[object](), objectsCall(srv.URL()))
	require.NoError(t, err)
	assert.Empty(t, out.Value)
	assert.NotNil(t, out.Value)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "req-123", reqs[0].Header.Get(testRequestIDHdr))
	assert.Equal(t, "req-123", reqs[1].Header.Get(testRequestIDHdr))
}

func TestGeneratedRequestIDStableAcrossAttempts(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath,
		stub.Reply{Status: nethttp.StatusTooManyRequests},
		stub.Reply{Body: `[]`},
	)
	g := newTestGateway(t)

	_, err := Get(context.Background(), g, Many[object](), objectsCall(srv.URL()))
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	id := reqs[0].Header.Get(testRequestIDHdr)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, reqs[1].Header.Get(testRequestIDHdr))
}

func TestTransportErrorIsRetried(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath,
		stub.Reply{Hangup: true},
		stub.Reply{Body: `[{"id":"1","name":"A"}]`},
	)
	g := newTestGateway(t)

	out, err := Get(context.Background(), g, Many[object](), objectsCall(srv.URL()))
	require.NoError(t, err)
	assert.Len(t, out.Value, 1)
	assert.Equal(t, 2, out.Stats.Attempts)
}

func TestConnectionRefusedExhaustsRetries(t *testing.T) {
	srv := stub.New(t)
	base := srv.URL()
	srv.Close()

	g := newTestGateway(t)
	_, err := Get(context.Background(), g, Many[object](), objectsCall(base))
	require.Error(t, err)
	assert.True(t, IsRetriesExhausted(err))
	assert.True(t, IsErrorType(err, TypeTransport))

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, DefaultMaxAttempts, transportErr.Request().Attempt)
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath, stub.Reply{Status: nethttp.StatusServiceUnavailable})
	g := newTestGateway(t, func(b *Builder) { b.WithRetries(DefaultMaxAttempts, time.Hour) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Get(ctx, g, Many[object](), objectsCall(srv.URL()))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsRetriesExhausted(err))
	assert.Equal(t, 1, srv.Hits(nethttp.MethodGet, testObjectsPath))
}

func TestEncodeErrorMakesNoAttempt(t *testing.T) {
	srv := stub.New(t)
	g := newTestGateway(t)

	call := objectsCall(srv.URL())
	call.Body = make(chan int)
	_, err := Post(context.Background(), g, Single[object](), call)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, TypeEncode))
	assert.Empty(t, srv.Requests())
}

func TestRateLimitWaitFailure(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath, stub.Reply{Body: `[]`})
	g := newTestGateway(t, func(b *Builder) { b.WithRateLimit(0.001, 1) })

	_, err := Get(context.Background(), g, Many[object](), objectsCall(srv.URL()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Get(ctx, g, Many[object](), objectsCall(srv.URL()))
	require.Error(t, err)
	assert.True(t, IsErrorType(err, TypeTransport))
	assert.Equal(t, 1, srv.Hits(nethttp.MethodGet, testObjectsPath))
}

func TestHTTPCounterInContext(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath,
		stub.Reply{Status: nethttp.StatusGatewayTimeout},
		stub.Reply{Body: `[]`},
	)
	g := newTestGateway(t)

	ctx := logger.WithHTTPCounter(context.Background())
	_, err := Get(ctx, g, Many[object](), objectsCall(srv.URL()))
	require.NoError(t, err)
	assert.Equal(t, int64(2), logger.GetHTTPCounter(ctx))
	assert.Greater(t, logger.GetHTTPElapsed(ctx), time.Duration(0))
}

func TestConcurrentCalls(t *testing.T) {
	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath, stub.Reply{Body: `[{"id":"1","name":"A"}]`})
	g := newTestGateway(t)

	const n = 20
	var wg sync.WaitGroup
	counts := make(chan int64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := Get(context.Background(), g, Many[object](), objectsCall(srv.URL()))
			if err != nil {
				errs <- err
				return
			}
			counts <- out.Stats.CallCount
		}()
	}
	wg.Wait()
	close(counts)
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	seen := make(map[int64]bool)
	for c := range counts {
		assert.False(t, seen[c], "duplicate call count %d", c)
		seen[c] = true
	}
	assert.Len(t, seen, n)
}

func TestBackoffUsesGatewayClock(t *testing.T) {
	mock := quartz.NewMock(t)
	var sends atomic.Int32
	g := newTestGateway(t, func(b *Builder) {
		b.WithPolicy(DefaultPolicy()).
			WithClock(mock).
			WithTransport(TransportFunc(func(context.Context, *Request) (*Response, error) {
				if sends.Add(1) < 3 {
					return &Response{StatusCode: nethttp.StatusServiceUnavailable}, nil
				}
				return &Response{StatusCode: nethttp.StatusOK, Body: []byte(`{"id":"1","name":"A"}`)}, nil
			}))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		out *Outcome[object]
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := Get(ctx, g, Single[object](), objectsCall(testBaseURL))
		done <- result{out, err}
	}()

	for retry := 0; retry < 2; retry++ {
		require.Eventually(t, func() bool {
			_, ok := mock.Peek()
			return ok
		}, time.Second, time.Millisecond)

		nominal := DefaultBaseDelay << retry
		d, w := mock.AdvanceNext()
		w.MustWait(ctx)
		assert.GreaterOrEqual(t, d, time.Duration(float64(nominal)*(1-DefaultJitterFactor)))
		assert.LessOrEqual(t, d, time.Duration(float64(nominal)*(1+DefaultJitterFactor)))
	}

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, 3, r.out.Stats.Attempts)
		assert.Equal(t, "A", r.out.Value.Name)
	case <-ctx.Done():
		t.Fatal("gateway did not finish")
	}
}

func TestUnclassifiedTransportErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	g := newTestGateway(t, func(b *Builder) {
		b.WithPolicy(NoRetry()).
			WithTransport(TransportFunc(func(context.Context, *Request) (*Response, error) {
				return nil, boom
			}))
	})

	_, err := Get(context.Background(), g, Single[object](), objectsCall(testBaseURL))
	require.Error(t, err)
	assert.True(t, IsErrorType(err, TypeTransport))
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsRetriesExhausted(err))
}

func TestNilResponseIsTransportError(t *testing.T) {
	g := newTestGateway(t, func(b *Builder) {
		b.WithPolicy(NoRetry()).
			WithTransport(TransportFunc(func(context.Context, *Request) (*Response, error) {
				return nil, nil
			}))
	})

	_, err := Get(context.Background(), g, Single[object](), objectsCall(testBaseURL))
	assert.True(t, IsErrorType(err, TypeTransport))
}

func TestBuilderDefaults(t *testing.T) {
	g := NewBuilder(nil).Build()
	defer g.Close()

	assert.Equal(t, DefaultPolicy(), g.Policy())
	assert.NotNil(t, g.Codec())
	assert.IsType(t, &PooledTransport{}, g.transport)
	assert.Equal(t, testJSONType, g.headers.Get("Accept"))
	assert.NoError(t, g.Close())
}

func TestBuildHeadersCaseCollision(t *testing.T) {
	g := newTestGateway(t)
	h := g.buildHeaders(map[string]string{"X-Trace": "upper", "x-trace": "lower"}, false)
	assert.Equal(t, []string{"lower"}, h.Values("X-Trace"))
	assert.Empty(t, h.Get(testContentType))

	h = g.buildHeaders(map[string]string{"content-type": "application/merge-patch+json"}, true)
	assert.Equal(t, "application/merge-patch+json", h.Get(testContentType))
}

func TestDebugLogMasksSensitiveHeaders(t *testing.T) {
	var buf bytes.Buffer
	g := NewBuilder(logger.NewWithWriter(&buf, "debug", false, nil)).
		WithDefaultHeader("Authorization", "Bearer s3cr3t").
		Build()
	t.Cleanup(func() { _ = g.Close() })

	srv := stub.New(t)
	srv.On(nethttp.MethodGet, testObjectsPath, stub.Reply{Body: `[]`})

	call := objectsCall(srv.URL())
	call.Headers = map[string]string{"X-Api-Key": "k-12345"}
	_, err := Get(context.Background(), g, Many[object](), call)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "HTTP gateway request")
	assert.Contains(t, out, `"Authorization":["***"]`)
	assert.NotContains(t, out, "s3cr3t")
	assert.NotContains(t, out, "k-12345")
	assert.Equal(t, "Bearer s3cr3t", srv.Requests()[0].Header.Get("Authorization"))
}
