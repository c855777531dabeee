// Package ratelimit bounds how often token acquisitions may hit a token
// endpoint. Limits are counted per identifier, normally the server name, and
// are checked before any network call.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/redis"
)

// Limiter admits or rejects one acquisition for identifier.
// A rejection is an *errors.AppError of type rate_limit carrying RetryAfter.
type Limiter interface {
	Check(ctx context.Context, identifier string) error
}

// Algorithm selects the counting strategy
type Algorithm string

const (
	AlgorithmFixedWindow Algorithm = "fixed_window"
	AlgorithmTokenBucket Algorithm = "token_bucket"
)

// BackendType defines where counters live
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendRedis BackendType = "redis"
)

// Config represents rate limiter configuration. Enabled is a pointer so an
// explicit false is distinct from unset; unset means on when Requests > 0.
type Config struct {
	Enabled   *bool         `yaml:"enabled"`
	Requests  int           `yaml:"requests"`
	Window    time.Duration `yaml:"window"`
	Algorithm Algorithm     `yaml:"algorithm"`
	Backend   BackendType   `yaml:"backend"`
}

// DefaultConfig allows 60 acquisitions per minute per server
func DefaultConfig() Config {
	return Config{
		Requests:  60,
		Window:    time.Minute,
		Algorithm: AlgorithmFixedWindow,
		Backend:   BackendLocal,
	}
}

// IsEnabled reports whether acquisitions are limited at all
func (c Config) IsEnabled() bool {
	if c.Enabled != nil {
		return *c.Enabled
	}
	return c.Requests > 0
}

// Validate fills defaults and rejects impossible settings
func (c *Config) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if c.Requests <= 0 {
		return fmt.Errorf("rate limit requests must be positive, got %d", c.Requests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmFixedWindow
	}
	if c.Backend == "" {
		c.Backend = BackendLocal
	}

	switch c.Algorithm {
	case AlgorithmFixedWindow, AlgorithmTokenBucket:
	default:
		return fmt.Errorf("unknown rate limit algorithm: %s", c.Algorithm)
	}

	switch c.Backend {
	case BackendLocal:
	case BackendRedis:
		if c.Algorithm != AlgorithmFixedWindow {
			return fmt.Errorf("redis rate limiting supports only %s", AlgorithmFixedWindow)
		}
	default:
		return fmt.Errorf("unknown rate limit backend: %s", c.Backend)
	}
	return nil
}

// New builds a limiter from config. redisClient is required for the redis backend.
func New(config Config, redisClient *redis.Client, logger logging.Logger) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.IsEnabled() {
		return Unlimited{}, nil
	}

	switch {
	case config.Backend == BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis client required for redis rate limiting")
		}
		return NewDistributedLimiter(redisClient, config.Requests, config.Window, logger), nil
	case config.Algorithm == AlgorithmTokenBucket:
		return NewTokenBucketLimiter(config.Requests, config.Window), nil
	default:
		return NewFixedWindowLimiter(config.Requests, config.Window), nil
	}
}

// Unlimited admits everything
type Unlimited struct{}

func (Unlimited) Check(context.Context, string) error { return nil }
