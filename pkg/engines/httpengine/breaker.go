package httpengine

import (
	"sync"
	"time"
)

const (
	breakerClosed   = "CLOSED"
	breakerOpen     = "OPEN"
	breakerHalfOpen = "HALF_OPEN"
)

// circuitBreaker trips after threshold consecutive failures and lets one
// probe through once resetTimeout has elapsed.
type circuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
	now          func() time.Time
}

func newCircuitBreaker(name string, threshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        breakerClosed,
		now:          time.Now,
	}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == breakerOpen {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = breakerHalfOpen
			return true
		}
		return false
	}
	return true
}

func (cb *circuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = breakerClosed
	cb.failureCount = 0
}

func (cb *circuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.failureCount >= cb.threshold {
		cb.state = breakerOpen
	}
}
