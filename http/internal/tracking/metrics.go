package tracking

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// Meter name for HTTP client metrics instrumentation
	httpClientMeterName = "restgate/http-client"

	// Metric names following OpenTelemetry semantic conventions v1.38.0
	metricHTTPClientRequestDuration = "http.client.request.duration" // Histogram in seconds, per attempt
	metricHTTPClientActiveRequests  = "http.client.active_requests"  // UpDownCounter
	metricHTTPClientRetries         = "http.client.retries"          // Counter, one per scheduled retry

	attrHTTPRequestMethod  = "http.request.method"
	attrHTTPResponseStatus = "http.response.status_code"
	attrServerAddress      = "server.address"
	attrErrorType          = "error.type"
	attrRetryAttempt       = "http.request.resend_count"
)

var httpDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
}

var (
	meter         metric.Meter
	meterOnce     sync.Once
	meterInitMu   sync.Mutex
	metricsInited bool

	durationHistogram   metric.Float64Histogram
	activeRequestsGauge metric.Int64UpDownCounter
	retryCounter        metric.Int64Counter
)

// logMetricError logs a metric initialization error to stderr.
// Metrics failures must not break outbound calls.
func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize HTTP client metric %s: %v\n", metricName, err)
	}
}

func initMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if meter != nil {
		return
	}

	meter = otel.Meter(httpClientMeterName)

	var err error
	durationHistogram, err = meter.Float64Histogram(
		metricHTTPClientRequestDuration,
		metric.WithDescription("Duration of HTTP client request attempts"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpDurationBuckets...),
	)
	logMetricError(metricHTTPClientRequestDuration, err)

	activeRequestsGauge, err = meter.Int64UpDownCounter(
		metricHTTPClientActiveRequests,
		metric.WithDescription("Number of logical HTTP client requests in progress"),
		metric.WithUnit("{request}"),
	)
	logMetricError(metricHTTPClientActiveRequests, err)

	retryCounter, err = meter.Int64Counter(
		metricHTTPClientRetries,
		metric.WithDescription("Number of HTTP client retries scheduled after a transient failure"),
		metric.WithUnit("{retry}"),
	)
	logMetricError(metricHTTPClientRetries, err)

	metricsInited = true
}

func ensureInitialized() {
	meterOnce.Do(initMeter)
}

// Attempt describes one physical attempt for metric recording.
type Attempt struct {
	Method     string
	Host       string
	StatusCode int
	// ErrorType is the error category, empty on success
	ErrorType string
	// Resend is the 0-based attempt index
	Resend   int
	Duration time.Duration
}

// RecordAttempt records the duration of one attempt.
func RecordAttempt(ctx context.Context, a Attempt) {
	ensureInitialized()
	if durationHistogram == nil {
		return
	}
	durationHistogram.Record(ctx, a.Duration.Seconds(), metric.WithAttributes(attemptAttributes(a)...))
}

// AddActive adjusts the number of in-progress logical requests.
func AddActive(ctx context.Context, delta int64, method, host string) {
	ensureInitialized()
	if activeRequestsGauge == nil {
		return
	}
	activeRequestsGauge.Add(ctx, delta, metric.WithAttributes(baseAttributes(method, host)...))
}

// RecordRetry counts one scheduled retry caused by errorType.
func RecordRetry(ctx context.Context, method, host, errorType string) {
	ensureInitialized()
	if retryCounter == nil {
		return
	}
	attrs := append(baseAttributes(method, host), attribute.String(attrErrorType, errorType))
	retryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func baseAttributes(method, host string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(attrHTTPRequestMethod, method),
		attribute.String(attrServerAddress, normalizeHost(host)),
	}
}

func attemptAttributes(a Attempt) []attribute.KeyValue {
	attrs := baseAttributes(a.Method, a.Host)
	attrs = append(attrs, attribute.Int(attrRetryAttempt, a.Resend))
	if a.StatusCode > 0 {
		attrs = append(attrs, attribute.Int(attrHTTPResponseStatus, a.StatusCode))
	}
	if errType := classifyError(a.StatusCode, a.ErrorType); errType != "" {
		attrs = append(attrs, attribute.String(attrErrorType, errType))
	}
	return attrs
}

func normalizeHost(host string) string {
	if host == "" {
		return "unknown"
	}
	return host
}

// classifyError returns the error.type attribute: the status code for 4xx/5xx responses,
// otherwise the client error category.
func classifyError(statusCode int, errorType string) string {
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return errorType
}

// IsInitialized returns true if client metrics have been initialized.
func IsInitialized() bool {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()
	return metricsInited
}

// ResetForTesting resets the metric state. Tests only.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	meter = nil
	durationHistogram = nil
	activeRequestsGauge = nil
	retryCounter = nil
	metricsInited = false
	meterOnce = sync.Once{}
}
