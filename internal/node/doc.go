// Package node runs the agent: the single control loop that ties the
// state machine, the broker session, the safety layer and the persistence
// layer together.
//
// Everything that can change node state funnels through one goroutine
// inside Agent.Run. Transport callbacks only classify, decode and enqueue;
// the loop drains the queue one event at a time, so a transition and all
// of its side effects (status publish, audit record, hardware calls)
// complete before the next event is examined. Timer-driven work rides a
// one-second tick: broker attempts on the backoff schedule, the sensor
// cadence, and the ERROR recovery delay.
//
// The one deliberate crack in the single-goroutine rule is the emergency
// latch: a resume sequence sleeps on the loop for seconds, and an inbound
// emergency must not wait behind it. The transport callback cancels the
// in-flight resume context before enqueueing the emergency, the aborted
// resume leaves its remaining actuators stopped, and the loop then
// processes the emergency normally.
//
// Collaborators sit behind small interfaces so the loop can be driven
// hermetically in tests: Transport over the mqtt client, LinkChecker over
// kernel interface state, Installer over library downloads.
package node
