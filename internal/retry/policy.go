// Package retry implements the bounded backoff applied around a single token
// endpoint call.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"dicomweb-oauth/internal/common/errors"
)

// Strategy names a backoff curve
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
)

// Config is the declarative form of a Policy
type Config struct {
	Strategy     Strategy      `yaml:"strategy"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Increment    time.Duration `yaml:"increment"`
	Jitter       float64       `yaml:"jitter"`
}

// DefaultConfig returns exponential backoff with 3 attempts starting at 1s
func DefaultConfig() Config {
	return Config{
		Strategy:     StrategyExponential,
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Increment:    time.Second,
		Jitter:       0.1,
	}
}

// Validate fills zero values from DefaultConfig and rejects invalid settings
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = def.Multiplier
	}
	if c.Increment == 0 {
		c.Increment = def.Increment
	}

	switch {
	case c.MaxAttempts < 1:
		return fmt.Errorf("retry max_attempts must be at least 1, got %d", c.MaxAttempts)
	case c.InitialDelay < 0 || c.MaxDelay < 0 || c.Increment < 0:
		return fmt.Errorf("retry delays must not be negative")
	case c.Multiplier < 1:
		return fmt.Errorf("retry multiplier must be >= 1, got %v", c.Multiplier)
	case c.Jitter < 0 || c.Jitter > 1:
		return fmt.Errorf("retry jitter must be within [0,1], got %v", c.Jitter)
	}

	switch c.Strategy {
	case StrategyExponential, StrategyLinear, StrategyFixed:
		return nil
	default:
		return fmt.Errorf("unknown retry strategy: %s", c.Strategy)
	}
}

// Policy retries transient failures with a backoff curve. A Policy holds
// no per-call state and may be shared between goroutines.
type Policy struct {
	strategy     Strategy
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	increment    time.Duration
	jitter       float64

	// IsRetryable classifies errors; defaults to errors.IsRetryable
	IsRetryable func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

// New builds a Policy from a validated Config
func New(c Config) (*Policy, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Policy{
		strategy:     c.Strategy,
		maxAttempts:  c.MaxAttempts,
		initialDelay: c.InitialDelay,
		maxDelay:     c.MaxDelay,
		multiplier:   c.Multiplier,
		increment:    c.Increment,
		jitter:       c.Jitter,
		IsRetryable:  errors.IsRetryable,
		sleep:        sleepContext,
		random:       rand.Float64,
	}, nil
}

func mustNew(c Config) *Policy {
	p, err := New(c)
	if err != nil {
		panic(err)
	}
	return p
}

// Exponential waits base*2^n before retry n, capped at maxDelay
func Exponential(base time.Duration, maxAttempts int, maxDelay time.Duration, jitter float64) *Policy {
	return mustNew(Config{
		Strategy:     StrategyExponential,
		MaxAttempts:  maxAttempts,
		InitialDelay: base,
		MaxDelay:     maxDelay,
		Multiplier:   2.0,
		Jitter:       jitter,
	})
}

// Linear waits initial+n*increment before retry n, capped at maxDelay
func Linear(initial, increment time.Duration, maxAttempts int, maxDelay time.Duration, jitter float64) *Policy {
	return mustNew(Config{
		Strategy:     StrategyLinear,
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		Increment:    increment,
		MaxDelay:     maxDelay,
		Jitter:       jitter,
	})
}

// Fixed waits the same delay before every retry
func Fixed(delay time.Duration, maxAttempts int, jitter float64) *Policy {
	return mustNew(Config{
		Strategy:     StrategyFixed,
		MaxAttempts:  maxAttempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Jitter:       jitter,
	})
}

// MaxAttempts returns the total number of calls Execute may make
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// BaseDelay returns the delay before retry n (0-based) without jitter
func (p *Policy) BaseDelay(n int) time.Duration {
	var d float64
	switch p.strategy {
	case StrategyExponential:
		d = float64(p.initialDelay) * math.Pow(p.multiplier, float64(n))
	case StrategyLinear:
		d = float64(p.initialDelay) + float64(n)*float64(p.increment)
	default:
		d = float64(p.initialDelay)
	}
	if p.maxDelay > 0 && d > float64(p.maxDelay) {
		return p.maxDelay
	}
	return time.Duration(d)
}

// Delay returns the delay before retry n with jitter applied
func (p *Policy) Delay(n int) time.Duration {
	d := p.BaseDelay(n)
	if p.jitter <= 0 || d <= 0 {
		return d
	}
	factor := 1 + p.jitter*(2*p.random()-1)
	return time.Duration(float64(d) * factor)
}

// Execute calls fn until it succeeds, returns a non-retryable error, or
// maxAttempts calls have been made. attempt is 1-based.
//
// Non-retryable errors are returned unchanged. Exhaustion returns a
// token_acquisition error (TOK-006) wrapping the last failure. A provider
// Retry-After replaces the computed delay, capped at maxDelay.
func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.IsRetryable(err) {
			return err
		}
		if attempt == p.maxAttempts {
			break
		}

		delay := p.Delay(attempt - 1)
		if retryAfter, ok := errors.RetryAfterOf(err); ok {
			delay = retryAfter
			if p.maxDelay > 0 && delay > p.maxDelay {
				delay = p.maxDelay
			}
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}

		if err := p.sleep(ctx, delay); err != nil {
			return errors.TokenAcquisitionError(errors.CodeTokenAcquisitionFailed,
				fmt.Sprintf("retry cancelled after %d attempts", attempt), err)
		}
	}

	exhausted := errors.TokenAcquisitionError(errors.CodeTokenRetriesExhausted,
		fmt.Sprintf("token acquisition failed after %d attempts", p.maxAttempts), lastErr)
	if appErr, ok := errors.As(lastErr); ok {
		exhausted.StatusCode = appErr.StatusCode
	}
	return exhausted
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
