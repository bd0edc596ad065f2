// Package resilience provides the node's two connectivity-protection
// primitives: a backoff-gated connection manager for the messaging link and
// a circuit breaker for the upstream enrichment service.
//
// Both are time-driven and passive. Neither owns a goroutine or a timer; the
// agent loop polls them on its tick, which keeps all connectivity policy on
// the single mutating goroutine. The Clock interface decouples the schedule
// arithmetic from the wall clock so the full backoff and breaker timelines
// are testable without sleeping.
//
// Design intent: the node stays degraded-but-alive. The connection manager
// never gives up (after the retry budget it continues at the capped
// interval), and the breaker sheds upstream load locally instead of letting
// a dead service stall the loop.
package resilience
