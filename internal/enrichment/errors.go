package enrichment

import "errors"

// Sentinel errors for upstream enrichment calls.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, enrichment.ErrCircuitOpen) {
//	    // record locally instead
//	}
var (
	// ErrCircuitOpen indicates the circuit breaker rejected the call
	// locally. No network I/O was attempted.
	ErrCircuitOpen = errors.New("enrichment: circuit open")

	// ErrUnreachable indicates the upstream service could not be reached.
	ErrUnreachable = errors.New("enrichment: upstream unreachable")

	// ErrUpstreamStatus indicates the upstream service answered with a
	// non-success status code.
	ErrUpstreamStatus = errors.New("enrichment: upstream returned error status")
)
