package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Transport kinds
const (
	TransportPooled = "pooled"
	TransportResty  = "resty"
)

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. YAML configuration files (config.yaml, then config.<env>.yaml)
// 3. Default values (lowest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// YAML files are optional
	loadOptionalFile(k, "config.yaml")
	if appEnv := currentEnv(k); appEnv != "" {
		loadOptionalFile(k, fmt.Sprintf("config.%s.yaml", appEnv))
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}

	return finish(k)
}

// LoadFromYAML builds a Config from defaults overlaid with the given YAML document.
// Environment variables are not consulted.
func LoadFromYAML(data []byte) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	return finish(k)
}

func finish(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadOptionalFile(k *koanf.Koanf, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load %s: %v\n", path, err)
	}
}

// currentEnv resolves app.env before the env provider runs so APP_ENV can
// select the environment-specific file.
func currentEnv(k *koanf.Koanf) string {
	if v := os.Getenv("APP_ENV"); v != "" {
		return v
	}
	return k.String("app.env")
}

func loadEnv(k *koanf.Koanf) error {
	provider := env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			// Convert UPPER_CASE to lower.case for koanf
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "restgate",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,

		"log.level":  "info",
		"log.pretty": false,

		"http.transport":             TransportPooled,
		"http.pool.max.total":        200,
		"http.pool.max.perroute":     50,
		"http.pool.timeout.acquire":  "5s",
		"http.pool.timeout.connect":  "10s",
		"http.pool.timeout.response": "15s",
		"http.pool.timeout.idle":     "90s",
		"http.pool.evict":            "1m",

		"http.retry.max.attempts": 4,
		"http.retry.max.delay":    "30s",
		"http.retry.base":         "2s",
		"http.retry.jitter":       0.75,
		"http.retry.strict":       false,

		"http.rate.limit": 0,
		"http.rate.burst": 0,

		"observability.enabled": false,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
