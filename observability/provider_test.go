package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gaborage/restgate/logger"
)

func stdoutConfig() *Config {
	return &Config{
		Enabled: true,
		Service: ServiceConfig{Name: testServiceName, Version: "1.0.0"},
		Trace: TraceConfig{
			Endpoint: EndpointStdout,
			Batch:    BatchConfig{Timeout: 10 * time.Millisecond},
		},
		Metrics: MetricsConfig{Interval: time.Hour},
	}
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(&Config{}, logger.Nop())
	require.NoError(t, err)

	_, ok := p.(*noopProvider)
	assert.True(t, ok, "expected noopProvider when disabled")

	_, ok = p.TracerProvider().(noop.TracerProvider)
	assert.True(t, ok)
	assert.NotNil(t, p.MeterProvider().Meter("test"))
	assert.NoError(t, p.ForceFlush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderInvalidConfig(t *testing.T) {
	p, err := NewProvider(&Config{Enabled: true}, nil)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrMissingServiceName)

	_, err = NewProvider(nil, nil)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestNewProviderDoesNotMutateInput(t *testing.T) {
	cfg := stdoutConfig()
	p, err := NewProvider(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	assert.Nil(t, cfg.Trace.Enabled)
	assert.Nil(t, cfg.Trace.Sample.Rate)
	assert.Empty(t, cfg.Metrics.Endpoint)
}

func TestNewProviderStdout(t *testing.T) {
	p, err := NewProvider(stdoutConfig(), logger.Nop())
	require.NoError(t, err)

	tp, ok := p.TracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok)
	_, ok = p.MeterProvider().(*sdkmetric.MeterProvider)
	require.True(t, ok)

	// installed globally for the gateway
	assert.NotNil(t, otel.GetTracerProvider())
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")

	_, span := tp.Tracer("test").Start(context.Background(), "HTTP GET")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, p.ForceFlush(ctx))
	assert.NoError(t, p.Shutdown(ctx))
}

func TestNewProviderTracingOnly(t *testing.T) {
	cfg := stdoutConfig()
	cfg.Metrics.Enabled = BoolPtr(false)

	p, err := NewProvider(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, ok := p.MeterProvider().(metricnoop.MeterProvider)
	assert.True(t, ok)
}

func TestNewProviderZeroSampleRate(t *testing.T) {
	cfg := stdoutConfig()
	cfg.Trace.Sample.Rate = Float64Ptr(0)
	cfg.Metrics.Enabled = BoolPtr(false)

	p, err := NewProvider(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "HTTP GET")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
}

func TestNewProviderOTLPExporters(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		protocol string
	}{
		{"http", "http://localhost:4318", ProtocolHTTP},
		{"grpc", "localhost:4317", ProtocolGRPC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Enabled: true,
				Service: ServiceConfig{Name: testServiceName},
				Trace: TraceConfig{
					Endpoint: tt.endpoint,
					Protocol: tt.protocol,
					Insecure: true,
					Headers:  map[string]string{"api-key": "k"},
				},
				Metrics: MetricsConfig{Interval: time.Hour},
			}

			p, err := NewProvider(cfg, logger.Nop())
			require.NoError(t, err)

			_, ok := p.TracerProvider().(*sdktrace.TracerProvider)
			assert.True(t, ok)

			// nothing recorded, so nothing is exported; the collector is never reached
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = p.Shutdown(ctx)
		})
	}
}

func TestMustNewProviderPanics(t *testing.T) {
	assert.Panics(t, func() { MustNewProvider(&Config{Enabled: true}, nil) })
	assert.NotPanics(t, func() { MustNewProvider(&Config{}, nil) })
}

type stubProvider struct {
	shutdownErr    error
	shutdownCalled bool
	deadline       bool
}

func (s *stubProvider) TracerProvider() trace.TracerProvider { return noop.NewTracerProvider() }
func (s *stubProvider) MeterProvider() metric.MeterProvider { return metricnoop.NewMeterProvider() }
func (s *stubProvider) ForceFlush(context.Context) error { return nil }

func (s *stubProvider) Shutdown(ctx context.Context) error {
	s.shutdownCalled = true
	_, s.deadline = ctx.Deadline()
	return s.shutdownErr
}

func TestShutdown(t *testing.T) {
	assert.NoError(t, Shutdown(nil, time.Second))

	ok := &stubProvider{}
	require.NoError(t, Shutdown(ok, 0))
	assert.True(t, ok.shutdownCalled)
	assert.True(t, ok.deadline)

	failing := &stubProvider{shutdownErr: errors.New("exporter stuck")}
	err := Shutdown(failing, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observability shutdown failed")
	assert.ErrorIs(t, err, failing.shutdownErr)
}
