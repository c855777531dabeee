// Package config loads process settings from the environment and the
// per-server OAuth configuration from a YAML file.
//
// Environment Variables:
//
//   - DICOMWEB_OAUTH_CONFIG: Path of the server file (default: ./dicomweb-oauth.yaml)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: "json" or "console" (default: json)
//   - LOG_FILE: Write logs to this file instead of stderr
//   - CACHE_BACKEND: "local" or "redis" (default: local)
//   - CACHE_ENCRYPTION_KEY: Passphrase for the token cache key. Without it
//     every process uses a random key and cannot read entries written by
//     other instances
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_KEY_PREFIX: Prefix for every redis key (default: dicomweb-oauth:)
//   - DISTRIBUTED_LOCK_ENABLED: Serialise acquisitions across instances
//     when the redis cache is used (default: true)
//   - METRICS_ENABLED: Export Prometheus metrics (default: false)
//
// Example usage:
//
//	_ = godotenv.Load()
//	settings := config.Load()
//	if err := settings.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//	servers, err := config.LoadServers(settings.ConfigPath)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"dicomweb-oauth/internal/common/errors"
)

// Cache backends
const (
	CacheBackendLocal = "local"
	CacheBackendRedis = "redis"
)

// Config holds process-wide settings read from the environment
type Config struct {
	ConfigPath string

	LogLevel  string
	LogFormat string
	LogFile   string

	CacheBackend       string
	CacheEncryptionKey string

	RedisAddress   string
	RedisPassword  string
	RedisDB        int
	RedisPoolSize  int
	RedisKeyPrefix string

	DistributedLock bool
	MetricsEnabled  bool
}

// Load creates a Config from environment variables, falling back to
// defaults for anything unset. It does not validate.
func Load() *Config {
	return &Config{
		ConfigPath: getEnv("DICOMWEB_OAUTH_CONFIG", "./dicomweb-oauth.yaml"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   getEnv("LOG_FILE", ""),

		CacheBackend:       strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendLocal)),
		CacheEncryptionKey: getEnv("CACHE_ENCRYPTION_KEY", ""),

		RedisAddress:   getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		RedisPoolSize:  getIntEnv("REDIS_POOL_SIZE", 10),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "dicomweb-oauth:"),

		DistributedLock: getBoolEnv("DISTRIBUTED_LOCK_ENABLED", true),
		MetricsEnabled:  getBoolEnv("METRICS_ENABLED", false),
	}
}

// UsesRedis reports whether the shared cache is selected
func (c *Config) UsesRedis() bool {
	return c.CacheBackend == CacheBackendRedis
}

// Validate checks cross-field requirements of the process settings
func (c *Config) Validate() error {
	if c.ConfigPath == "" {
		return errors.ConfigError(errors.CodeConfigMissingKey, "DICOMWEB_OAUTH_CONFIG is required")
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return errors.ConfigError(errors.CodeConfigInvalidValue,
			fmt.Sprintf("LOG_FORMAT must be 'json' or 'console', got %q", c.LogFormat))
	}

	switch c.CacheBackend {
	case CacheBackendLocal:
	case CacheBackendRedis:
		if c.RedisAddress == "" {
			return errors.ConfigError(errors.CodeConfigMissingKey, "REDIS_ADDRESS is required when CACHE_BACKEND=redis")
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return errors.ConfigError(errors.CodeConfigInvalidValue, "REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return errors.ConfigError(errors.CodeConfigInvalidValue, "REDIS_POOL_SIZE must be a positive number")
		}
	default:
		return errors.ConfigError(errors.CodeConfigInvalidValue,
			fmt.Sprintf("CACHE_BACKEND must be 'local' or 'redis', got %q", c.CacheBackend))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv returns -1 for a value that is set but not a number so
// Validate reports it instead of silently using the default
func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return parsed
}
