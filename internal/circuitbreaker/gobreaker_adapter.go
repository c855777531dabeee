// Package circuitbreaker guards each token endpoint with a per-server
// failure state machine built on Sony's gobreaker.
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"dicomweb-oauth/internal/common/errors"
	"dicomweb-oauth/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int `yaml:"failure_threshold"`
	// OpenTimeout is how long the circuit stays open before one trial call is allowed
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// DefaultConfig opens after 5 consecutive failures for 60 seconds
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.OpenTimeout <= 0 {
		return fmt.Errorf("open_timeout must be positive, got %v", c.OpenTimeout)
	}
	return nil
}

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means the circuit breaker is closed and allowing requests through
	StateClosed State = iota
	// StateOpen means the circuit breaker is open and rejecting requests
	StateOpen
	// StateHalfOpen means a single trial call decides whether to close again
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of one breaker
type Stats struct {
	Name           string    `json:"name"`
	State          State     `json:"-"`
	StateName      string    `json:"state"`
	FailureCount   int       `json:"failure_count"`
	TotalFailures  int       `json:"total_failures"`
	Requests       int       `json:"requests"`
	LastTransition time.Time `json:"last_transition"`
}

// StateListener observes transitions. It runs while the breaker holds its
// internal lock and must not call back into the breaker.
type StateListener func(name string, from, to State)

// GoBreakerAdapter wraps Sony's gobreaker. MaxRequests is pinned to 1 so
// that exactly one trial runs in half-open; other callers are rejected
// immediately. Interval is 0 so closed-state counts only reset on success.
type GoBreakerAdapter struct {
	name      string
	config    Config
	logger    logging.Logger
	listeners []StateListener

	mu             sync.RWMutex
	breaker        *gobreaker.CircuitBreaker
	lastTransition time.Time
}

// NewGoBreaker creates a new circuit breaker using Sony's gobreaker implementation
func NewGoBreaker(name string, config Config, logger logging.Logger, listeners ...StateListener) *GoBreakerAdapter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.String("breaker", name),
			logging.Err(err),
		)
		config = DefaultConfig()
	}

	g := &GoBreakerAdapter{
		name:           name,
		config:         config,
		logger:         logger,
		listeners:      listeners,
		lastTransition: time.Now(),
	}
	g.breaker = gobreaker.NewCircuitBreaker(g.settings())
	return g
}

func (g *GoBreakerAdapter) settings() gobreaker.Settings {
	threshold := uint32(g.config.FailureThreshold)
	return gobreaker.Settings{
		Name:        g.name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     g.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.onStateChange(convertState(from), convertState(to))
		},
		IsSuccessful: isSuccessful,
	}
}

// isSuccessful decides what counts against the endpoint. Configuration
// problems and caller cancellation are not endpoint failures.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if errors.IsType(err, errors.ErrTypeConfig) {
		return true
	}
	return stderrors.Is(err, context.Canceled)
}

func (g *GoBreakerAdapter) onStateChange(from, to State) {
	now := time.Now()
	g.mu.Lock()
	g.lastTransition = now
	g.mu.Unlock()

	fields := []logging.Field{
		logging.String("breaker", g.name),
		logging.String("from", from.String()),
		logging.String("to", to.String()),
	}
	if to == StateOpen {
		g.logger.Warn("Circuit breaker opened", append(fields, logging.Duration("open_timeout", g.config.OpenTimeout))...)
	} else {
		g.logger.Info("Circuit breaker state changed", fields...)
	}

	for _, listener := range g.listeners {
		listener(g.name, from, to)
	}
}

func (g *GoBreakerAdapter) current() *gobreaker.CircuitBreaker {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.breaker
}

// Execute runs fn within the circuit breaker. While open, or while a
// half-open trial is in flight, it returns a circuit_open error without
// calling fn.
func (g *GoBreakerAdapter) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := g.current().Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.CircuitOpenError(g.name, err).WithRetryAfter(g.remainingOpen())
	}

	return err
}

func (g *GoBreakerAdapter) remainingOpen() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()

	remaining := time.Until(g.lastTransition.Add(g.config.OpenTimeout))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State returns the current state of the circuit breaker
func (g *GoBreakerAdapter) State() State {
	return convertState(g.current().State())
}

// Stats returns current statistics
func (g *GoBreakerAdapter) Stats() Stats {
	breaker := g.current()
	state := convertState(breaker.State())
	counts := breaker.Counts()

	g.mu.RLock()
	lastTransition := g.lastTransition
	g.mu.RUnlock()

	return Stats{
		Name:           g.name,
		State:          state,
		StateName:      state.String(),
		FailureCount:   int(counts.ConsecutiveFailures),
		TotalFailures:  int(counts.TotalFailures),
		Requests:       int(counts.Requests),
		LastTransition: lastTransition,
	}
}

// Config returns the effective configuration
func (g *GoBreakerAdapter) Config() Config {
	return g.config
}

// IsOpen returns true if the circuit breaker is open
func (g *GoBreakerAdapter) IsOpen() bool {
	return g.State() == StateOpen
}

// Reset forcibly returns the breaker to closed with zero counts.
// gobreaker has no reset, so the instance is replaced.
func (g *GoBreakerAdapter) Reset() {
	from := g.State()

	g.mu.Lock()
	g.breaker = gobreaker.NewCircuitBreaker(g.settings())
	g.mu.Unlock()

	if from != StateClosed {
		g.onStateChange(from, StateClosed)
	}
}

// Trip forcibly opens the breaker by recording failures until it opens
func (g *GoBreakerAdapter) Trip() {
	forced := fmt.Errorf("forced failure to trip breaker")
	for i := 0; i < g.config.FailureThreshold && g.State() == StateClosed; i++ {
		_, _ = g.current().Execute(func() (interface{}, error) {
			return nil, forced
		})
	}
}

func convertState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
