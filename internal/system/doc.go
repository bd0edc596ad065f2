// Package system owns the node's operational state machine.
//
// Twelve states cover the path from power-on to OPERATIONAL, plus the
// exceptional SAFE_MODE, ERROR and LIBRARY_DOWNLOADING excursions. Edges
// not in the transition table are rejected with *TransitionError and leave
// the state unchanged.
//
// Connectivity loss is deliberately not a fault: losing the broker session
// or the wireless link from any connected state degrades back to
// WIFI_CONNECTED, and the node keeps operating locally while the resilience
// layer retries. Only faults that invalidate the node's safety posture
// reach ERROR or SAFE_MODE.
//
// The controller performs no I/O and holds no locks; the agent loop is its
// sole caller. Status publishing and audit recording attach through the
// transition observer.
package system
