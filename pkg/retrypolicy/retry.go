// Package retrypolicy provides exponential backoff with jitter and a
// circuit breaker for outbound calls.
package retrypolicy

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy configures retry behavior. The delay before attempt n (1-based)
// is min(base * 2^(n-1), max) * (1 + jitterRatio * U) with U uniform in
// [0, 1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64

	// rand returns a uniform sample in [0, 1); overridable for tests.
	rand func() float64
}

// Default returns the standard policy: 3 attempts, 500ms base, 8s cap,
// 25% jitter.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		JitterRatio: 0.25,
	}
}

// WithRand overrides the jitter source for testing.
func (p Policy) WithRand(f func() float64) Policy {
	p.rand = f
	return p
}

// DelayForAttempt computes the sleep before retrying after attempt n.
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if capped := float64(p.MaxDelay); backoff > capped {
		backoff = capped
	}
	sample := p.rand
	if sample == nil {
		sample = rand.Float64
	}
	return time.Duration(backoff * (1 + p.JitterRatio*sample()))
}

// ExhaustedError wraps the last failure after all attempts were spent.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs op, retrying on failure while shouldRetry approves the error and
// attempts remain. sleep may be nil to use time.Sleep.
func Do(op func() error, shouldRetry func(error) bool, policy Policy, sleep func(time.Duration)) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	var last error
	attempts := 0
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attempts = attempt
		if last = op(); last == nil {
			return nil
		}
		if attempt >= policy.MaxAttempts || !shouldRetry(last) {
			break
		}
		sleep(policy.DelayForAttempt(attempt))
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}

// Breaker is a simple failure-counting circuit breaker.
type Breaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string // "CLOSED", "OPEN", "HALF_OPEN"
}

// NewBreaker creates a closed breaker that opens after threshold
// consecutive failures and half-opens after resetTimeout.
func NewBreaker(name string, threshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        "CLOSED",
	}
}

// Name returns the breaker's identifier.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == "OPEN" {
		if time.Since(b.lastFailure) > b.resetTimeout {
			b.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

// Success records a successful call and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = "CLOSED"
	b.failureCount = 0
}

// Failure records a failed call, opening the breaker at the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = time.Now()
	if b.failureCount >= b.threshold {
		b.state = "OPEN"
	}
}
