package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dicomweb-oauth/internal/common/errors"
)

// TokenBucketLimiter smooths acquisitions with one golang.org/x/time/rate
// bucket per identifier: burst equals limit, refill is limit per window.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewTokenBucketLimiter allows bursts of limit and refills limit tokens per window
func NewTokenBucketLimiter(limit int, window time.Duration) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		limit:    limit,
		window:   window,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

func (l *TokenBucketLimiter) Check(_ context.Context, identifier string) error {
	limiter := l.limiterFor(identifier)
	now := l.now()

	if limiter.AllowN(now, 1) {
		return nil
	}

	return errors.RateLimitError(identifier, l.limit, l.window, l.refillInterval())
}

func (l *TokenBucketLimiter) limiterFor(identifier string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[identifier]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.refillInterval()), l.limit)
		l.limiters[identifier] = limiter
	}
	return limiter
}

func (l *TokenBucketLimiter) refillInterval() time.Duration {
	return l.window / time.Duration(l.limit)
}
