// Package metrics receives token lifecycle events. A nil Sink is never
// passed around; use Nop when metrics are disabled.
package metrics

import (
	"time"

	"dicomweb-oauth/internal/circuitbreaker"
)

// Acquisition outcomes reported to ObserveAcquisition
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Sink receives structured lifecycle events for one or more servers
type Sink interface {
	ObserveAcquisition(server, status string, duration time.Duration)
	CacheHit(server string)
	CacheMiss(server string)
	CircuitStateChanged(server string, state circuitbreaker.State)
	CircuitRejected(server string)
	RetryAttempt(server string)
	RateLimited(server string)
}

// Nop discards every event
type Nop struct{}

func (Nop) ObserveAcquisition(string, string, time.Duration) {}
func (Nop) CacheHit(string) {}
func (Nop) CacheMiss(string) {}
func (Nop) CircuitStateChanged(string, circuitbreaker.State) {}
func (Nop) CircuitRejected(string) {}
func (Nop) RetryAttempt(string) {}
func (Nop) RateLimited(string) {}
