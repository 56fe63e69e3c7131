// Package testing provides in-memory OpenTelemetry providers and assertions for
// gateway instrumentation tests.
//
// Usage:
//
//	tp := NewTestTraceProvider(t)
//	g := http.NewBuilder(log).WithTracerProvider(tp).Build()
//	// ... perform calls ...
//	span := Spans(t, tp).WithName("HTTP GET").First()
//	AssertSpanAttribute(t, &span, "http.request.resend_count", 2)
package testing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	attrValueMismatchErrMsg = "attribute %s value mismatch"
	metricNotFoundErrMsg    = "metric %s not found"
)

// TestTraceProvider wraps the SDK TracerProvider and an in-memory exporter.
type TestTraceProvider struct {
	*sdktrace.TracerProvider
	Exporter *tracetest.InMemoryExporter
}

// NewTestTraceProvider creates a synchronous TracerProvider that keeps spans in memory.
// It is shut down when the test ends.
func NewTestTraceProvider(t *testing.T) *TestTraceProvider {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return &TestTraceProvider{
		TracerProvider: provider,
		Exporter:       exporter,
	}
}

// TestMeterProvider wraps the SDK MeterProvider and a manual reader.
type TestMeterProvider struct {
	*sdkmetric.MeterProvider
	Reader *sdkmetric.ManualReader
}

// NewTestMeterProvider creates a MeterProvider collected on demand.
func NewTestMeterProvider(t *testing.T) *TestMeterProvider {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return &TestMeterProvider{
		MeterProvider: provider,
		Reader:        reader,
	}
}

// Collect reads all metrics recorded so far.
func (tmp *TestMeterProvider) Collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tmp.Reader.Collect(context.Background(), &rm), "failed to collect metrics")
	return rm
}

// SpanCollector filters captured spans.
type SpanCollector struct {
	t     *testing.T
	spans tracetest.SpanStubs
}

// Spans snapshots the spans exported so far.
func Spans(t *testing.T, tp *TestTraceProvider) *SpanCollector {
	t.Helper()
	return &SpanCollector{t: t, spans: tp.Exporter.GetSpans()}
}

// Len returns the number of collected spans.
func (sc *SpanCollector) Len() int {
	return len(sc.spans)
}

// WithName keeps spans with the given name.
func (sc *SpanCollector) WithName(name string) *SpanCollector {
	filtered := make(tracetest.SpanStubs, 0, len(sc.spans))
	for i := range sc.spans {
		if sc.spans[i].Name == name {
			filtered = append(filtered, sc.spans[i])
		}
	}
	return &SpanCollector{t: sc.t, spans: filtered}
}

// WithAttribute keeps spans carrying key with the given value.
func (sc *SpanCollector) WithAttribute(key string, value any) *SpanCollector {
	filtered := make(tracetest.SpanStubs, 0, len(sc.spans))
	for i := range sc.spans {
		if attr, ok := findAttribute(sc.spans[i].Attributes, key); ok && matchesValue(attr, value) {
			filtered = append(filtered, sc.spans[i])
		}
	}
	return &SpanCollector{t: sc.t, spans: filtered}
}

// First returns the first span, failing the test when there is none.
func (sc *SpanCollector) First() tracetest.SpanStub {
	sc.t.Helper()
	require.NotEmpty(sc.t, sc.spans, "no spans in collection")
	return sc.spans[0]
}

// AssertCount asserts the number of collected spans.
func (sc *SpanCollector) AssertCount(expected int) *SpanCollector {
	sc.t.Helper()
	assert.Len(sc.t, sc.spans, expected, "unexpected number of spans")
	return sc
}

// EventNames lists the span's events in order.
func EventNames(span *tracetest.SpanStub) []string {
	names := make([]string, 0, len(span.Events))
	for _, e := range span.Events {
		names = append(names, e.Name)
	}
	return names
}

// AssertSpanAttribute asserts that span has key with the expected value.
func AssertSpanAttribute(t *testing.T, span *tracetest.SpanStub, key string, expected any) {
	t.Helper()
	attr, ok := findAttribute(span.Attributes, key)
	if !ok {
		t.Errorf("attribute %s not found in span %s", key, span.Name)
		return
	}
	switch v := expected.(type) {
	case string:
		assert.Equal(t, v, attr.AsString(), attrValueMismatchErrMsg, key)
	case int:
		assert.Equal(t, int64(v), attr.AsInt64(), attrValueMismatchErrMsg, key)
	case int64:
		assert.Equal(t, v, attr.AsInt64(), attrValueMismatchErrMsg, key)
	case bool:
		assert.Equal(t, v, attr.AsBool(), attrValueMismatchErrMsg, key)
	default:
		t.Fatalf("unsupported attribute value type: %T", expected)
	}
}

// AssertSpanStatus asserts the status code of a span.
func AssertSpanStatus(t *testing.T, span *tracetest.SpanStub, expectedCode codes.Code) {
	t.Helper()
	assert.Equal(t, expectedCode, span.Status.Code, "span status code mismatch")
}

// FindMetric finds a metric by name. Returns nil if not found.
func FindMetric(rm metricdata.ResourceMetrics, metricName string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == metricName {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// SumInt64 adds up every data point of an int64 Sum metric.
func SumInt64(rm metricdata.ResourceMetrics, metricName string) (int64, error) {
	metric := FindMetric(rm, metricName)
	if metric == nil {
		return 0, fmt.Errorf(metricNotFoundErrMsg, metricName)
	}
	data, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		return 0, fmt.Errorf("metric %s is not an int64 sum", metricName)
	}
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total, nil
}

// HistogramCount adds up the sample counts of every data point of a float64 histogram.
func HistogramCount(rm metricdata.ResourceMetrics, metricName string) (uint64, error) {
	metric := FindMetric(rm, metricName)
	if metric == nil {
		return 0, fmt.Errorf(metricNotFoundErrMsg, metricName)
	}
	data, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		return 0, fmt.Errorf("metric %s is not a float64 histogram", metricName)
	}
	var total uint64
	for _, dp := range data.DataPoints {
		total += dp.Count
	}
	return total, nil
}

func findAttribute(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func matchesValue(v attribute.Value, expected any) bool {
	switch e := expected.(type) {
	case string:
		return v.AsString() == e
	case int:
		return v.AsInt64() == int64(e)
	case int64:
		return v.AsInt64() == e
	case bool:
		return v.AsBool() == e
	default:
		return false
	}
}
