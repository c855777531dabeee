package cache

import (
	"fmt"
	"time"

	"dicomweb-oauth/internal/redis"
)

// Type represents the cache backend type
type Type string

const (
	TypeLocal Type = "local"
	TypeRedis Type = "redis"
)

// Config holds cache configuration
type Config struct {
	Type            Type
	CleanupInterval time.Duration
	RedisClient     *redis.Client
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Type:            TypeLocal,
		CleanupInterval: 10 * time.Minute,
	}
}

// New creates a cache backend based on configuration
func New(config Config) (Backend, error) {
	switch config.Type {
	case TypeLocal, "":
		interval := config.CleanupInterval
		if interval <= 0 {
			interval = DefaultConfig().CleanupInterval
		}
		return NewLocalCache(interval), nil

	case TypeRedis:
		if config.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for redis cache")
		}
		return NewSharedCache(config.RedisClient), nil

	default:
		return nil, fmt.Errorf("unknown cache type: %s", config.Type)
	}
}
