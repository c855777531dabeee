package ratelimit

import (
	"context"
	"sync"
	"time"

	"dicomweb-oauth/internal/common/errors"
)

const pruneThreshold = 1024

type window struct {
	start time.Time
	count int
}

// FixedWindowLimiter counts requests per identifier in windows that start
// at the first request after the previous window ended.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*window
	now     func() time.Time
}

// NewFixedWindowLimiter allows limit requests per window for each identifier
func NewFixedWindowLimiter(limit int, windowSize time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		limit:   limit,
		window:  windowSize,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *FixedWindowLimiter) Check(_ context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[identifier]
	if !ok || now.Sub(w.start) >= l.window {
		if len(l.windows) >= pruneThreshold {
			l.prune(now)
		}
		w = &window{start: now}
		l.windows[identifier] = w
	}

	if w.count >= l.limit {
		return errors.RateLimitError(identifier, l.limit, l.window, w.start.Add(l.window).Sub(now))
	}
	w.count++
	return nil
}

// usage returns the count in the current window and when it resets
func (l *FixedWindowLimiter) usage(identifier string) (int, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok || l.now().Sub(w.start) >= l.window {
		return 0, time.Time{}
	}
	return w.count, w.start.Add(l.window)
}

// Reset clears the window for identifier
func (l *FixedWindowLimiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, identifier)
}

func (l *FixedWindowLimiter) prune(now time.Time) {
	for id, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, id)
		}
	}
}
