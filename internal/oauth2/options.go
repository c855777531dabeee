package oauth2

import (
	"net/http"
	"time"

	"dicomweb-oauth/internal/cache"
	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/crypto"
	"dicomweb-oauth/internal/locks"
	"dicomweb-oauth/internal/metrics"
	"dicomweb-oauth/internal/oauth2/providers"
	"dicomweb-oauth/internal/ratelimit"
	"dicomweb-oauth/internal/redis"
)

// Option customises a Manager
type Option func(*Manager)

// WithLogger sets the logger; defaults to the global logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics sink; defaults to metrics.Nop
func WithMetrics(sink metrics.Sink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithCache sets the token cache. The caller keeps ownership and closes it.
func WithCache(backend cache.Backend) Option {
	return func(m *Manager) {
		m.cache = backend
	}
}

// WithLocker serialises acquisitions across instances sharing the cache
func WithLocker(locker locks.Locker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLimiter replaces the per-server limiters built from configuration
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(m *Manager) {
		m.limiter = limiter
	}
}

// WithRedis provides the client used by redis-backed rate limits
func WithRedis(client *redis.Client) Option {
	return func(m *Manager) {
		m.redis = client
	}
}

// WithSecretsGuard sets the guard used for secrets and cached tokens.
// Instances sharing a redis cache need guards derived from one passphrase.
func WithSecretsGuard(guard *crypto.SecretsGuard) Option {
	return func(m *Manager) {
		m.guard = guard
	}
}

// WithHTTPClient makes every provider use client instead of one built from
// the server's timeout and TLS settings
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithProviderRegistry sets the provider families available to servers
func WithProviderRegistry(reg *providers.Registry) Option {
	return func(m *Manager) {
		m.registry = reg
	}
}

// WithClock overrides the time source used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}
