package resilience

import (
	"sync"
	"time"
)

// Breaker states. Wire values appear in logs and diagnostics payloads.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerState identifies a circuit breaker state.
type BreakerState string

// Default breaker parameters for the upstream enrichment service.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 3
	DefaultOpenTimeout      = 60 * time.Second
)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker from closed.
	FailureThreshold int

	// SuccessThreshold is the success count that closes the breaker from
	// half-open.
	SuccessThreshold int

	// OpenTimeout is how long the breaker stays open before the next Allow
	// probes half-open.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the standard thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
		OpenTimeout:      DefaultOpenTimeout,
	}
}

// CircuitBreaker protects the node from a failing upstream service by
// rejecting calls locally once a failure threshold is reached.
//
// State moves are evaluated lazily: an open breaker transitions to half-open
// on the first Allow after OpenTimeout has elapsed, not on a timer. The
// breaker therefore needs no goroutine and costs nothing while idle.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	clock  Clock
	logger Logger

	state        BreakerState
	failureCount int
	successCount int
	lastFailure  time.Time
}

// NewCircuitBreaker creates a closed breaker. Zero or negative config fields
// fall back to the defaults. A nil clock means the system clock.
func NewCircuitBreaker(cfg BreakerConfig, clock Clock) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &CircuitBreaker{
		cfg:    cfg,
		clock:  clock,
		logger: noopLogger{},
		state:  BreakerClosed,
	}
}

// SetLogger sets the logger for the breaker.
func (b *CircuitBreaker) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger != nil {
		b.logger = logger
	}
}

// Allow reports whether a call may proceed.
//
// An open breaker whose timeout has elapsed transitions to half-open here
// and allows the probe call through. A rejected call must not touch the
// network; the caller reports the rejection locally.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.clock.Now().Sub(b.lastFailure) >= b.cfg.OpenTimeout {
		b.setStateLocked(BreakerHalfOpen)
		b.successCount = 0
	}
	return b.state != BreakerOpen
}

// RecordSuccess reports a successful upstream call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		b.failureCount = 0
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.setStateLocked(BreakerClosed)
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

// RecordFailure reports a failed upstream call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.clock.Now()
	switch b.state {
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.setStateLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		// A probe failure reopens immediately; recovery starts over.
		b.successCount = 0
		b.setStateLocked(BreakerOpen)
	}
}

// State returns the current breaker state without evaluating the lazy
// open-to-half-open transition; only Allow moves the state machine.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the consecutive-failure count in the closed state.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// SuccessCount returns the probe-success count in the half-open state.
func (b *CircuitBreaker) SuccessCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successCount
}

func (b *CircuitBreaker) setStateLocked(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.logger.Info("circuit breaker state changed", "from", string(prev), "to", string(next))
}
