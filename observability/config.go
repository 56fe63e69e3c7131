package observability

import (
	"maps"
	"strings"
	"time"

	"github.com/gaborage/restgate/config"
)

const (
	// EndpointStdout is a special endpoint value that outputs to stdout (for local development).
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	// EnvironmentDevelopment is the default environment name.
	EnvironmentDevelopment = "development"

	defaultSampleRate     = 1.0
	defaultBatchTimeout   = 5 * time.Second
	defaultExportTimeout  = 30 * time.Second
	defaultMetricInterval = time.Minute
)

// BoolPtr returns a pointer to the provided bool value.
func BoolPtr(v bool) *bool {
	return &v
}

// Float64Ptr returns a pointer to the provided float64 value.
func Float64Ptr(v float64) *float64 {
	return &v
}

// Config defines the exporter settings for gateway spans and metrics.
// It is read from the "observability" section of the application configuration.
type Config struct {
	// Enabled controls whether observability is active.
	// When false, the provider is a no-op.
	Enabled bool `koanf:"enabled"`

	Service     ServiceConfig `koanf:"service"`
	Environment string        `koanf:"environment"`
	Trace       TraceConfig   `koanf:"trace"`
	Metrics     MetricsConfig `koanf:"metrics"`
}

// ServiceConfig identifies the calling service in exported telemetry.
type ServiceConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// TraceConfig configures span export.
//
// Endpoint is "stdout", a URL such as "http://collector:4318" for ProtocolHTTP,
// or "host:port" for ProtocolGRPC.
type TraceConfig struct {
	Enabled  *bool             `koanf:"enabled"`
	Endpoint string            `koanf:"endpoint"`
	Protocol string            `koanf:"protocol"`
	Insecure bool              `koanf:"insecure"`
	Headers  map[string]string `koanf:"headers"`
	Sample   SampleConfig      `koanf:"sample"`
	Batch    BatchConfig       `koanf:"batch"`
	Export   ExportConfig      `koanf:"export"`
}

// SampleConfig holds the ratio of traces recorded. Nil means 1.0.
type SampleConfig struct {
	Rate *float64 `koanf:"rate"`
}

type BatchConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type ExportConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// MetricsConfig configures metric export. Empty Endpoint and Protocol inherit the trace settings.
type MetricsConfig struct {
	Enabled  *bool         `koanf:"enabled"`
	Endpoint string        `koanf:"endpoint"`
	Protocol string        `koanf:"protocol"`
	Interval time.Duration `koanf:"interval"`
	Export   ExportConfig  `koanf:"export"`
}

// FromConfig reads the observability section of cfg. Service name, version and
// environment default to the app section.
func FromConfig(cfg *config.Config) (*Config, error) {
	var obs Config
	if err := cfg.Unmarshal("observability", &obs); err != nil {
		return nil, err
	}
	if obs.Service.Name == "" {
		obs.Service.Name = cfg.App.Name
	}
	if obs.Service.Version == "" {
		obs.Service.Version = cfg.App.Version
	}
	if obs.Environment == "" {
		obs.Environment = cfg.App.Env
	}
	return &obs, nil
}

// ApplyDefaults fills unset fields. NewProvider calls it on a copy.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}

	if c.Trace.Enabled == nil {
		c.Trace.Enabled = BoolPtr(true)
	}
	if c.Trace.Endpoint == "" {
		c.Trace.Endpoint = EndpointStdout
	}
	if c.Trace.Protocol == "" {
		c.Trace.Protocol = ProtocolHTTP
	}
	if c.Trace.Sample.Rate == nil {
		c.Trace.Sample.Rate = Float64Ptr(defaultSampleRate)
	}
	if c.Trace.Batch.Timeout <= 0 {
		c.Trace.Batch.Timeout = defaultBatchTimeout
	}
	if c.Trace.Export.Timeout <= 0 {
		c.Trace.Export.Timeout = defaultExportTimeout
	}
	c.Trace.Headers = cloneHeaderMap(c.Trace.Headers)

	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = BoolPtr(true)
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = c.Trace.Endpoint
	}
	if c.Metrics.Protocol == "" {
		c.Metrics.Protocol = c.Trace.Protocol
	}
	if c.Metrics.Interval <= 0 {
		c.Metrics.Interval = defaultMetricInterval
	}
	if c.Metrics.Export.Timeout <= 0 {
		c.Metrics.Export.Timeout = defaultExportTimeout
	}
}

// Validate checks an enabled configuration. Disabled configurations are always valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if c.Service.Name == "" {
		return ErrMissingServiceName
	}

	if c.Trace.Sample.Rate != nil && (*c.Trace.Sample.Rate < 0 || *c.Trace.Sample.Rate > 1) {
		return ErrInvalidSampleRate
	}
	if err := validateExporter(c.Trace.Endpoint, c.Trace.Protocol); err != nil {
		return err
	}
	return validateExporter(c.Metrics.Endpoint, c.Metrics.Protocol)
}

func validateExporter(endpoint, protocol string) error {
	if endpoint == EndpointStdout || endpoint == "" {
		return nil
	}
	if protocol != ProtocolHTTP && protocol != ProtocolGRPC {
		return ErrInvalidProtocol
	}

	// gRPC takes "host:port"; HTTP takes a full URL
	hasScheme := strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
	if protocol == ProtocolGRPC && hasScheme {
		return ErrInvalidEndpointFormat
	}
	if protocol == ProtocolHTTP && !hasScheme {
		return ErrInvalidEndpointFormat
	}
	return nil
}

func cloneHeaderMap(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	clone := make(map[string]string, len(headers))
	maps.Copy(clone, headers)
	return clone
}

func enabled(flag *bool) bool {
	return flag != nil && *flag
}
