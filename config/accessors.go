package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const errMsgRequiredKeyInvalid = "required configuration key '%s' is invalid: %w"

// GetString retrieves a string value from the configuration or the provided default.
func (c *Config) GetString(key string, defaultVal ...string) string {
	if !c.Exists(key) {
		return optionalDefault("", defaultVal...)
	}
	return c.k.String(key)
}

// GetInt retrieves an int value from the configuration or the provided default.
// Values that cannot be converted fall back to the default.
func (c *Config) GetInt(key string, defaultVal ...int) int {
	if !c.Exists(key) {
		return optionalDefault(0, defaultVal...)
	}
	n, err := strconv.Atoi(strings.TrimSpace(c.k.String(key)))
	if err != nil {
		return optionalDefault(0, defaultVal...)
	}
	return n
}

// GetFloat64 retrieves a float64 value from the configuration or the provided default.
func (c *Config) GetFloat64(key string, defaultVal ...float64) float64 {
	if !c.Exists(key) {
		return optionalDefault(float64(0), defaultVal...)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(c.k.String(key)), 64)
	if err != nil {
		return optionalDefault(float64(0), defaultVal...)
	}
	return f
}

// GetBool retrieves a bool value from the configuration or the provided default.
func (c *Config) GetBool(key string, defaultVal ...bool) bool {
	if !c.Exists(key) {
		return optionalDefault(false, defaultVal...)
	}
	b, err := strconv.ParseBool(strings.TrimSpace(c.k.String(key)))
	if err != nil {
		return optionalDefault(false, defaultVal...)
	}
	return b
}

// GetDuration retrieves a duration ("250ms", "1m") from the configuration or the provided default.
func (c *Config) GetDuration(key string, defaultVal ...time.Duration) time.Duration {
	if !c.Exists(key) {
		return optionalDefault(time.Duration(0), defaultVal...)
	}
	d, err := time.ParseDuration(strings.TrimSpace(c.k.String(key)))
	if err != nil {
		return optionalDefault(time.Duration(0), defaultVal...)
	}
	return d
}

// GetRequiredString retrieves a non-empty string or returns a ConfigError naming the key.
func (c *Config) GetRequiredString(key string) (string, error) {
	if !c.Exists(key) {
		return "", NewMissingFieldError(key, envVarFor(key), key)
	}
	v := c.k.String(key)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf(errMsgRequiredKeyInvalid, key, NewValidationError(key, "empty string"))
	}
	return v, nil
}

// Unmarshal decodes the subtree at key into out.
func (c *Config) Unmarshal(key string, out any) error {
	if c == nil || c.k == nil {
		return fmt.Errorf("config not initialized")
	}
	return c.k.Unmarshal(key, out)
}

// Exists reports whether key is set by any source.
func (c *Config) Exists(key string) bool {
	return c != nil && c.k != nil && c.k.Exists(key)
}

func optionalDefault[T any](zero T, overrides ...T) T {
	if len(overrides) > 0 {
		return overrides[0]
	}
	return zero
}

func envVarFor(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
