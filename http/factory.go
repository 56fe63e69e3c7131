package http

import (
	"fmt"

	"github.com/gaborage/restgate/config"
	"github.com/gaborage/restgate/logger"
)

// NewBuilderFromConfig returns a Builder preloaded with the pool, retry, rate and header
// settings of cfg. Callers can keep chaining With* before Build.
func NewBuilderFromConfig(cfg *config.HTTPConfig, log logger.Logger) (*Builder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("http config is nil")
	}

	pool := PoolOptions{
		MaxTotal:        cfg.Pool.Max.Total,
		MaxPerRoute:     cfg.Pool.Max.PerRoute,
		AcquireTimeout:  cfg.Pool.Timeout.Acquire,
		ConnectTimeout:  cfg.Pool.Timeout.Connect,
		ResponseTimeout: cfg.Pool.Timeout.Response,
		IdleTimeout:     cfg.Pool.Timeout.Idle,
		EvictInterval:   cfg.Pool.Evict,
	}

	b := NewBuilder(log).
		WithPolicy(Policy{
			MaxAttempts:       cfg.Retry.Max.Attempts,
			BaseDelay:         cfg.Retry.Base,
			MaxDelay:          cfg.Retry.Max.Delay,
			JitterFactor:      cfg.Retry.Jitter,
			StrictIdempotency: cfg.Retry.Strict,
		}).
		WithRateLimit(cfg.Rate.Limit, cfg.Rate.Burst)

	switch cfg.Transport {
	case "", config.TransportPooled:
		b.WithPoolOptions(pool)
	case config.TransportResty:
		b.WithTransport(NewRestyTransport(pool))
	default:
		return nil, config.NewInvalidFieldError("http.transport", fmt.Sprintf("invalid value %q", cfg.Transport),
			[]string{config.TransportPooled, config.TransportResty})
	}

	for name, value := range cfg.Headers {
		b.WithDefaultHeader(name, value)
	}

	return b, nil
}

// FromConfig builds a Gateway from the http section of the configuration.
func FromConfig(cfg *config.HTTPConfig, log logger.Logger) (*Gateway, error) {
	b, err := NewBuilderFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	return b.Build(), nil
}
