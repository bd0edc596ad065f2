package resilience

import (
	"testing"
	"time"
)

func openBreaker(t *testing.T, clock *FakeClock) *CircuitBreaker {
	t.Helper()
	b := NewCircuitBreaker(DefaultBreakerConfig(), clock)
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerOpen {
		t.Fatalf("breaker state = %q after %d failures, want open", b.State(), DefaultFailureThreshold)
	}
	return b
}

// ===== Closed =====

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	b := NewCircuitBreaker(DefaultBreakerConfig(), clock)

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordFailure()
		if b.State() != BreakerClosed {
			t.Fatalf("breaker opened after %d failures", i+1)
		}
		if !b.Allow() {
			t.Fatalf("closed breaker rejected a call after %d failures", i+1)
		}
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("breaker state = %q after threshold, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker allowed a call before the timeout")
	}
}

func TestCircuitBreaker_SuccessResetsClosedFailures(t *testing.T) {
	b := NewCircuitBreaker(DefaultBreakerConfig(), NewFakeClock(time.Unix(1000, 0)))

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if b.FailureCount() != 0 {
		t.Fatalf("failure count after success = %d, want 0", b.FailureCount())
	}

	// The streak starts over: threshold-1 further failures stay closed.
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerClosed {
		t.Errorf("breaker state = %q, want closed", b.State())
	}
}

// ===== Open / half-open =====

func TestCircuitBreaker_LazyHalfOpenTransition(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	b := openBreaker(t, clock)

	clock.Advance(DefaultOpenTimeout - time.Millisecond)
	if b.Allow() {
		t.Fatal("open breaker allowed a call before the timeout elapsed")
	}
	if b.State() != BreakerOpen {
		t.Fatalf("breaker state = %q, want open", b.State())
	}

	clock.Advance(time.Millisecond)
	// State does not advance on its own; only a check moves it.
	if b.State() != BreakerOpen {
		t.Fatalf("breaker state advanced without a check: %q", b.State())
	}
	if !b.Allow() {
		t.Fatal("breaker rejected the probe call after the timeout")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("breaker state = %q after probe check, want half_open", b.State())
	}
}

func TestCircuitBreaker_ClosesAfterProbeSuccesses(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	b := openBreaker(t, clock)
	clock.Advance(DefaultOpenTimeout)
	b.Allow()

	for i := 0; i < DefaultSuccessThreshold-1; i++ {
		b.RecordSuccess()
		if b.State() != BreakerHalfOpen {
			t.Fatalf("breaker left half_open after %d successes", i+1)
		}
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("breaker state = %q after %d successes, want closed", b.State(), DefaultSuccessThreshold)
	}
	if b.FailureCount() != 0 || b.SuccessCount() != 0 {
		t.Errorf("counters not reset: failures=%d successes=%d", b.FailureCount(), b.SuccessCount())
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	b := openBreaker(t, clock)
	clock.Advance(DefaultOpenTimeout)
	b.Allow()

	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("breaker state = %q after probe failure, want open", b.State())
	}
	if b.SuccessCount() != 0 {
		t.Errorf("success count after probe failure = %d, want 0", b.SuccessCount())
	}
	if b.Allow() {
		t.Error("reopened breaker allowed a call before a fresh timeout")
	}

	// Recovery starts over from the reopening failure.
	clock.Advance(DefaultOpenTimeout)
	if !b.Allow() {
		t.Error("breaker rejected the probe after a fresh timeout")
	}
}
