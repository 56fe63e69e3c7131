package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App: AppConfig{Name: appName, Version: appVersion, Env: EnvDevelopment},
		Log: LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Transport: TransportPooled,
			Pool: PoolConfig{
				Max: PoolMaxConfig{Total: 10, PerRoute: 5},
				Timeout: PoolTimeoutConfig{
					Acquire:  time.Second,
					Connect:  time.Second,
					Response: time.Second,
					Idle:     time.Minute,
				},
				Evict: time.Minute,
			},
			Retry: RetryConfig{
				Max:    RetryMaxConfig{Attempts: 4, Delay: 30 * time.Second},
				Base:   2 * time.Second,
				Jitter: 0.75,
			},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		field    string
		category string
	}{
		{"valid", func(*Config) {}, "", ""},
		{"missing name", func(c *Config) { c.App.Name = "" }, "app.name", "missing"},
		{"bad env", func(c *Config) { c.App.Env = "qa" }, "app.env", "invalid"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level", "invalid"},
		{"bad transport", func(c *Config) { c.HTTP.Transport = "grpc" }, "http.transport", "invalid"},
		{"zero total", func(c *Config) { c.HTTP.Pool.Max.Total = 0 }, "http.pool.max.total", "invalid"},
		{"zero acquire timeout", func(c *Config) { c.HTTP.Pool.Timeout.Acquire = 0 }, "http.pool.timeout.acquire", "invalid"},
		{"zero attempts", func(c *Config) { c.HTTP.Retry.Max.Attempts = 0 }, "http.retry.max.attempts", "invalid"},
		{"jitter above one", func(c *Config) { c.HTTP.Retry.Jitter = 1.5 }, "http.retry.jitter", "invalid"},
		{"per route above total", func(c *Config) { c.HTTP.Pool.Max.PerRoute = 11 }, "http.pool.max.perroute", "invalid"},
		{"base above cap", func(c *Config) { c.HTTP.Retry.Base = time.Minute }, "http.retry.base", "invalid"},
		{"limit without burst", func(c *Config) { c.HTTP.Rate.Limit = 5 }, "http.rate.burst", "invalid"},
		{"blank header", func(c *Config) { c.HTTP.Headers = map[string]string{" ": "x"} }, "http.headers", "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Equal(t, tt.category, cfgErr.Category)
		})
	}
}

func TestValidateNil(t *testing.T) {
	err := Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is nil")
}

func TestValidateOneOfListsOptions(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Transport = "grpc"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Equal(t, `config_invalid: http.transport invalid value "grpc" must be one of: pooled, resty`, err.Error())
}

func TestValidateMissingFieldSuggestsEnvVar(t *testing.T) {
	cfg := validConfig()
	cfg.App.Version = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Equal(t, "config_missing: app.version required set APP_VERSION env var or add app.version to config.yaml", err.Error())
}

func TestKeyPath(t *testing.T) {
	assert.Equal(t, "http.pool.max.perroute", keyPath("Config.HTTP.Pool.Max.PerRoute"))
	assert.Equal(t, "name", keyPath("Name"))
}
