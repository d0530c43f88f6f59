// Package forward redirects mutating requests from replicas to the primary
// with retries, exponential backoff, and a circuit breaker.
package forward

import (
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker stops outbound attempts after sustained failure. A threshold of
// zero disables it: every request attempts. Outcomes are recorded once per
// forwarded request, after retries are exhausted or a response is accepted.
type Breaker struct {
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openSince           time.Time
	probing             bool
}

func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
	}
}

// Allow reports whether an attempt may proceed. When the circuit is open
// and the reset timeout has not elapsed, retryAfter carries the remaining
// wait.
func (b *Breaker) Allow() (ok bool, retryAfter time.Duration) {
	if b.threshold == 0 {
		return true, 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true, 0
	case CircuitOpen:
		elapsed := b.now().Sub(b.openSince)
		if elapsed < b.resetTimeout {
			return false, b.resetTimeout - elapsed
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return true, 0
	case CircuitHalfOpen:
		if b.probing {
			return false, 0
		}
		b.probing = true
		return true, 0
	}
	return false, 0
}

func (b *Breaker) RecordSuccess() {
	if b.threshold == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probing = false
	b.state = CircuitClosed
}

func (b *Breaker) RecordFailure() {
	if b.threshold == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitHalfOpen:
		b.state = CircuitOpen
		b.openSince = b.now()
		b.probing = false
		b.consecutiveFailures = 1
	default:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.state = CircuitOpen
			b.openSince = b.now()
		}
	}
}

func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
