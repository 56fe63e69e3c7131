package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags first, then the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return NewValidationError("config", "is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return fromFieldError(fieldErrs[0])
		}
		return err
	}

	if err := validateHTTP(&cfg.HTTP); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	return nil
}

func validateHTTP(cfg *HTTPConfig) error {
	if cfg.Pool.Max.PerRoute > cfg.Pool.Max.Total {
		return NewInvalidFieldError("http.pool.max.perroute",
			fmt.Sprintf("%d exceeds http.pool.max.total %d", cfg.Pool.Max.PerRoute, cfg.Pool.Max.Total), nil)
	}

	if cfg.Retry.Max.Delay > 0 && cfg.Retry.Base > cfg.Retry.Max.Delay {
		return NewInvalidFieldError("http.retry.base",
			fmt.Sprintf("%s exceeds http.retry.max.delay %s", cfg.Retry.Base, cfg.Retry.Max.Delay), nil)
	}

	if cfg.Rate.Limit > 0 && cfg.Rate.Burst < 1 {
		return NewValidationError("http.rate.burst", "must be at least 1 when http.rate.limit is set")
	}

	for name := range cfg.Headers {
		if strings.TrimSpace(name) == "" {
			return NewValidationError("http.headers", "header name must not be empty")
		}
	}

	return nil
}

// fromFieldError turns a validator failure into a ConfigError keyed by the koanf path.
func fromFieldError(fe validator.FieldError) *ConfigError {
	field := keyPath(fe.Namespace())

	switch fe.Tag() {
	case "required":
		return NewMissingFieldError(field, envVarFor(field), field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	default:
		return NewValidationError(field, fmt.Sprintf("failed %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value()))
	}
}

// keyPath maps a validator namespace such as "Config.HTTP.Pool.Max.PerRoute"
// to the koanf key "http.pool.max.perroute".
func keyPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}
