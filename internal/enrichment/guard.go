package enrichment

import (
	"context"

	"github.com/kaiser-home/nodecore/internal/resilience"
)

// Guard routes upstream calls through a circuit breaker.
//
// Exactly one breaker verdict is recorded per attempted call. A call
// rejected by an open breaker never reaches the Caller, so no network
// I/O happens and nothing is recorded against the breaker.
type Guard struct {
	caller  Caller
	breaker *resilience.CircuitBreaker
}

// NewGuard wraps a caller with a breaker.
func NewGuard(caller Caller, breaker *resilience.CircuitBreaker) *Guard {
	return &Guard{caller: caller, breaker: breaker}
}

// Call performs one guarded upstream call.
//
// Returns ErrCircuitOpen without invoking the caller when the breaker
// rejects. Otherwise the call proceeds and its outcome is recorded.
func (g *Guard) Call(ctx context.Context, endpoint string, payload any) (*Response, error) {
	if !g.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	resp, err := g.caller.Call(ctx, endpoint, payload)
	if err != nil {
		g.breaker.RecordFailure()
		return nil, err
	}

	g.breaker.RecordSuccess()
	return resp, nil
}

// State exposes the breaker state for status and diagnostics payloads.
func (g *Guard) State() resilience.BreakerState {
	return g.breaker.State()
}
