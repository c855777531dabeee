package ratelimit

import (
	"context"
	"time"

	"dicomweb-oauth/internal/common/errors"
	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/redis"
)

// DistributedLimiter keeps fixed-window counters in redis so every instance
// sharing the store draws from one budget per identifier.
//
// When redis is unreachable the check fails open and logs a warning.
type DistributedLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger logging.Logger
}

// NewDistributedLimiter creates a redis-backed fixed-window limiter
func NewDistributedLimiter(client *redis.Client, limit int, window time.Duration, logger logging.Logger) *DistributedLimiter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &DistributedLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

func (l *DistributedLimiter) Check(ctx context.Context, identifier string) error {
	count, remaining, err := l.client.IncrementWindow(ctx, l.client.Key("ratelimit", identifier), l.window)
	if err != nil {
		l.logger.Warn("Rate limit store unavailable, allowing acquisition",
			logging.String("identifier", identifier),
			logging.Err(err),
		)
		return nil
	}

	if count > int64(l.limit) {
		return errors.RateLimitError(identifier, l.limit, l.window, remaining)
	}
	return nil
}
