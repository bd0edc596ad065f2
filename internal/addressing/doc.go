// Package addressing builds and classifies the messaging addresses a node
// uses to talk to the kaiser coordinator.
//
// Three address forms exist:
//
//   - Standard:     <root>/<node>/<category>[/<subpath>...]
//   - Broadcast:    <root>/broadcast/<category>
//   - Hierarchical: <root>/master/<zone>/esp/<node>/subzone/<subzone>/sensor/<pin>/data
//
// A Builder is bound to the node's root and node identifiers at construction,
// so call sites never assemble addresses by hand. Every build validates its
// segments and enforces MaxLength; an address that would exceed the limit is
// an explicit error, never a truncated publish.
//
// # Usage
//
//	addr, err := addressing.NewBuilder("kaiser", "node-a1")
//	if err != nil { ... }
//	topic, err := addr.ActuatorStatus(17)
//	// topic: "kaiser/node-a1/actuator/17/status"
//
// ParseInbound is the inverse direction: it classifies a received topic into
// an Inbound{Kind, Pin, Broadcast} triple for the dispatch table, rejecting
// traffic addressed to other nodes.
package addressing
