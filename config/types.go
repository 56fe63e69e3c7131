package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config represents the overall client configuration structure.
// The embedded koanf.Koanf instance allows access to custom keys
// not explicitly defined in the struct (see GetString and friends).
type Config struct {
	App  AppConfig  `koanf:"app" json:"app" yaml:"app" mapstructure:"app"`
	Log  LogConfig  `koanf:"log" json:"log" yaml:"log" mapstructure:"log"`
	HTTP HTTPConfig `koanf:"http" json:"http" yaml:"http" mapstructure:"http"`

	// k holds the underlying Koanf instance for flexible access to custom configurations
	k *koanf.Koanf `json:"-" yaml:"-" mapstructure:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	Version string `koanf:"version" json:"version" yaml:"version" mapstructure:"version" validate:"required"`
	Env     string `koanf:"env" json:"env" yaml:"env" mapstructure:"env" validate:"oneof=development staging production"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty" mapstructure:"pretty"`
}

// HTTPConfig configures the outbound gateway.
//
// Transport selects the wire implementation: "pooled" (net/http behind
// per-route slots) or "resty".
type HTTPConfig struct {
	Transport string            `koanf:"transport" json:"transport" yaml:"transport" mapstructure:"transport" validate:"oneof=pooled resty"`
	Pool      PoolConfig        `koanf:"pool" json:"pool" yaml:"pool" mapstructure:"pool"`
	Retry     RetryConfig       `koanf:"retry" json:"retry" yaml:"retry" mapstructure:"retry"`
	Rate      RateConfig        `koanf:"rate" json:"rate" yaml:"rate" mapstructure:"rate"`
	Headers   map[string]string `koanf:"headers" json:"headers" yaml:"headers" mapstructure:"headers"`
}

// PoolConfig mirrors the connection pool limits and timeouts.
type PoolConfig struct {
	Max     PoolMaxConfig     `koanf:"max" json:"max" yaml:"max" mapstructure:"max"`
	Timeout PoolTimeoutConfig `koanf:"timeout" json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Evict   time.Duration     `koanf:"evict" json:"evict" yaml:"evict" mapstructure:"evict" validate:"gt=0"`
}

type PoolMaxConfig struct {
	Total    int `koanf:"total" json:"total" yaml:"total" mapstructure:"total" validate:"gte=1"`
	PerRoute int `koanf:"perroute" json:"perroute" yaml:"perroute" mapstructure:"perroute" validate:"gte=1"`
}

type PoolTimeoutConfig struct {
	Acquire  time.Duration `koanf:"acquire" json:"acquire" yaml:"acquire" mapstructure:"acquire" validate:"gt=0"`
	Connect  time.Duration `koanf:"connect" json:"connect" yaml:"connect" mapstructure:"connect" validate:"gt=0"`
	Response time.Duration `koanf:"response" json:"response" yaml:"response" mapstructure:"response" validate:"gt=0"`
	Idle     time.Duration `koanf:"idle" json:"idle" yaml:"idle" mapstructure:"idle" validate:"gt=0"`
}

// RetryConfig holds the backoff policy settings.
// Strict restricts retries to GET, HEAD, DELETE and OPTIONS unless a call opts in.
type RetryConfig struct {
	Max    RetryMaxConfig `koanf:"max" json:"max" yaml:"max" mapstructure:"max"`
	Base   time.Duration  `koanf:"base" json:"base" yaml:"base" mapstructure:"base" validate:"gte=0"`
	Jitter float64        `koanf:"jitter" json:"jitter" yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
	Strict bool           `koanf:"strict" json:"strict" yaml:"strict" mapstructure:"strict"`
}

type RetryMaxConfig struct {
	Attempts int           `koanf:"attempts" json:"attempts" yaml:"attempts" mapstructure:"attempts" validate:"gte=1"`
	Delay    time.Duration `koanf:"delay" json:"delay" yaml:"delay" mapstructure:"delay" validate:"gte=0"`
}

// RateConfig limits outbound requests per second. Limit 0 disables limiting.
type RateConfig struct {
	Limit float64 `koanf:"limit" json:"limit" yaml:"limit" mapstructure:"limit" validate:"gte=0"`
	Burst int     `koanf:"burst" json:"burst" yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}
