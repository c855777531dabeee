// Package cache holds the CacheBackend implementations that store encrypted
// token entries per server.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"dicomweb-oauth/internal/redis"
)

// Backend stores opaque, already encrypted values with a TTL.
// Implementations must be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Shared reports whether other processes observe the same entries
	Shared() bool
	Close() error
}

// LocalCache wraps patrickmn/go-cache for in-process caching
type LocalCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates a new local cache. Expired entries are purged every
// cleanupInterval; reads never return them regardless.
func NewLocalCache(cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (l *LocalCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, found := l.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	data, ok := value.([]byte)
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

// Set stores a copy of value. A non-positive ttl deletes the key.
func (l *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		l.cache.Delete(key)
		return nil
	}
	l.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

func (l *LocalCache) Shared() bool { return false }

// Len returns the number of entries, including expired ones not yet purged
func (l *LocalCache) Len() int {
	return l.cache.ItemCount()
}

func (l *LocalCache) Close() error {
	l.cache.Flush()
	return nil
}

// SharedCache stores entries in redis so several instances see one token per server
type SharedCache struct {
	client *redis.Client
	prefix string
}

// NewSharedCache creates a redis-backed cache under the client's key prefix
func NewSharedCache(client *redis.Client) *SharedCache {
	return &SharedCache{
		client: client,
		prefix: client.Key("token") + ":",
	}
}

func (s *SharedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.client.GetBytes(ctx, s.prefix+key)
}

// Set writes value with SET PX ttl. A non-positive ttl deletes the key.
func (s *SharedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Delete(ctx, s.prefix+key)
	}
	return s.client.SetBytes(ctx, s.prefix+key, value, ttl)
}

func (s *SharedCache) Delete(ctx context.Context, key string) error {
	return s.client.Delete(ctx, s.prefix+key)
}

func (s *SharedCache) Shared() bool { return true }

// Close leaves the redis client open; it is owned by the caller
func (s *SharedCache) Close() error { return nil }
