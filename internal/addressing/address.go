package addressing

import (
	"fmt"
	"strings"
)

// MaxLength is the maximum address length in bytes, matching the fixed topic
// buffer used across the kaiser node fleet. Builds that would exceed it fail
// with ErrAddressTooLong.
const MaxLength = 128

// Categories understood by the node core. Configuration payload structure is
// owned by the coordinator; the core only routes on these category paths.
const (
	CategorySystemCommand     = "system/command"
	CategorySystemStatus      = "status"
	CategorySystemDiagnostics = "system/diagnostics"
	CategorySystemUpdate      = "system_update"
	CategoryEmergency         = "emergency"
	CategoryEmergencyResponse = "emergency/response"
	CategoryActuatorEmergency = "actuator/emergency"
	CategoryZoneConfig        = "config/zone"
	CategorySensorConfig      = "config/sensors"
	CategoryActuatorConfig    = "config/actuators"
)

// broadcastNode is the pseudo-node segment for fleet-wide addresses.
const broadcastNode = "broadcast"

// Builder constructs addresses for one node identity.
//
// The zero value is not usable; create one with NewBuilder so the root and
// node identifiers are validated once, up front.
type Builder struct {
	root string
	node string
}

// NewBuilder returns a Builder bound to the given root (ecosystem identity,
// e.g. "kaiser") and node identifier. Both must be single non-empty segments
// without separator or wildcard characters; the root must not begin with '$'
// (reserved broker namespace).
func NewBuilder(root, node string) (*Builder, error) {
	if err := validateSegment(root); err != nil {
		return nil, fmt.Errorf("root %q: %w", root, err)
	}
	if strings.HasPrefix(root, "$") {
		return nil, fmt.Errorf("root %q: %w", root, ErrInvalidSegment)
	}
	if err := validateSegment(node); err != nil {
		return nil, fmt.Errorf("node %q: %w", node, err)
	}
	if node == broadcastNode {
		return nil, fmt.Errorf("node %q collides with the broadcast segment: %w", node, ErrInvalidSegment)
	}
	return &Builder{root: root, node: node}, nil
}

// Root returns the root identity the builder is bound to.
func (b *Builder) Root() string { return b.root }

// Node returns the node identifier the builder is bound to.
func (b *Builder) Node() string { return b.node }

// =============================================================================
// Address forms
// =============================================================================

// Standard builds <root>/<node>/<category>[/<subpath>...].
//
// The category may itself contain separators (e.g. "system/command"); each of
// its segments and each subpath segment is validated individually.
//
// Example: kaiser/node-a1/actuator/17/command
func (b *Builder) Standard(category string, subpath ...string) (string, error) {
	if err := validateCategory(category); err != nil {
		return "", err
	}
	for _, seg := range subpath {
		if err := validateSegment(seg); err != nil {
			return "", fmt.Errorf("subpath %q: %w", seg, err)
		}
	}
	parts := append([]string{b.root, b.node, category}, subpath...)
	return join(parts)
}

// Broadcast builds the fleet-wide form <root>/broadcast/<category>.
//
// Example: kaiser/broadcast/emergency
func (b *Builder) Broadcast(category string) (string, error) {
	if err := validateCategory(category); err != nil {
		return "", err
	}
	return join([]string{b.root, broadcastNode, category})
}

// Hierarchical builds the zone-scoped sensor data form:
//
//	<root>/master/<masterZone>/esp/<node>/subzone/<subzone>/sensor/<pin>/data
//
// Used for readings once the node has a zone assignment, so the coordinator
// can route on zone topology without consulting a registry.
func (b *Builder) Hierarchical(masterZone, subzone string, pin int) (string, error) {
	if err := validateSegment(masterZone); err != nil {
		return "", fmt.Errorf("master zone %q: %w", masterZone, err)
	}
	if err := validateSegment(subzone); err != nil {
		return "", fmt.Errorf("subzone %q: %w", subzone, err)
	}
	if pin < 0 {
		return "", ErrInvalidPin
	}
	return join([]string{
		b.root, "master", masterZone, "esp", b.node,
		"subzone", subzone, "sensor", fmt.Sprintf("%d", pin), "data",
	})
}

// =============================================================================
// Concrete addresses
// =============================================================================

// SystemCommand returns the inbound system command address.
//
// Example: kaiser/node-a1/system/command
func (b *Builder) SystemCommand() (string, error) {
	return b.Standard(CategorySystemCommand)
}

// SystemStatus returns the retained node status address.
//
// Example: kaiser/node-a1/status
func (b *Builder) SystemStatus() (string, error) {
	return b.Standard(CategorySystemStatus)
}

// SystemDiagnostics returns the address diagnostics replies are published
// on, never retained.
//
// Example: kaiser/node-a1/system/diagnostics
func (b *Builder) SystemDiagnostics() (string, error) {
	return b.Standard(CategorySystemDiagnostics)
}

// Emergency returns the node-directed emergency stop address.
//
// Example: kaiser/node-a1/emergency
func (b *Builder) Emergency() (string, error) {
	return b.Standard(CategoryEmergency)
}

// EmergencyResponse returns the address for emergency acknowledgements.
//
// Example: kaiser/node-a1/emergency/response
func (b *Builder) EmergencyResponse() (string, error) {
	return b.Standard(CategoryEmergencyResponse)
}

// ActuatorEmergency returns the actuator-subsystem emergency address.
//
// Example: kaiser/node-a1/actuator/emergency
func (b *Builder) ActuatorEmergency() (string, error) {
	return b.Standard(CategoryActuatorEmergency)
}

// ActuatorCommand returns the command address for one actuator pin.
//
// Example: kaiser/node-a1/actuator/17/command
func (b *Builder) ActuatorCommand(pin int) (string, error) {
	if pin < 0 {
		return "", ErrInvalidPin
	}
	return b.Standard("actuator", fmt.Sprintf("%d", pin), "command")
}

// ActuatorStatus returns the retained status address for one actuator pin.
//
// Example: kaiser/node-a1/actuator/17/status
func (b *Builder) ActuatorStatus(pin int) (string, error) {
	if pin < 0 {
		return "", ErrInvalidPin
	}
	return b.Standard("actuator", fmt.Sprintf("%d", pin), "status")
}

// SensorData returns the hierarchical reading address for one sensor pin.
func (b *Builder) SensorData(masterZone, subzone string, pin int) (string, error) {
	return b.Hierarchical(masterZone, subzone, pin)
}

// ZoneConfig returns the inbound zone assignment address.
//
// Example: kaiser/node-a1/config/zone
func (b *Builder) ZoneConfig() (string, error) {
	return b.Standard(CategoryZoneConfig)
}

// SensorConfig returns the inbound sensor configuration address.
func (b *Builder) SensorConfig() (string, error) {
	return b.Standard(CategorySensorConfig)
}

// ActuatorConfig returns the inbound actuator configuration address.
func (b *Builder) ActuatorConfig() (string, error) {
	return b.Standard(CategoryActuatorConfig)
}

// BroadcastEmergency returns the fleet-wide emergency address.
//
// Example: kaiser/broadcast/emergency
func (b *Builder) BroadcastEmergency() (string, error) {
	return b.Broadcast(CategoryEmergency)
}

// BroadcastSystemUpdate returns the fleet-wide update notification address.
//
// Example: kaiser/broadcast/system_update
func (b *Builder) BroadcastSystemUpdate() (string, error) {
	return b.Broadcast(CategorySystemUpdate)
}

// =============================================================================
// Subscription patterns
// =============================================================================

// AllActuatorCommands returns a pattern matching every actuator command
// addressed to this node.
//
// Pattern: kaiser/node-a1/actuator/+/command
func (b *Builder) AllActuatorCommands() (string, error) {
	return b.Standard("actuator/+/command")
}

// AllConfig returns a pattern matching every configuration category addressed
// to this node.
//
// Pattern: kaiser/node-a1/config/+
func (b *Builder) AllConfig() (string, error) {
	return b.Standard("config/+")
}

// InboundSubscriptions returns every pattern the node core subscribes to:
// direct commands, configuration, emergencies, and fleet broadcasts.
func (b *Builder) InboundSubscriptions() ([]string, error) {
	builds := []func() (string, error){
		b.SystemCommand,
		b.Emergency,
		b.ActuatorEmergency,
		b.AllActuatorCommands,
		b.AllConfig,
		b.BroadcastEmergency,
		b.BroadcastSystemUpdate,
	}
	topics := make([]string, 0, len(builds))
	for _, build := range builds {
		topic, err := build()
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

// =============================================================================
// Validation
// =============================================================================

// join assembles segments and enforces the length limit.
func join(parts []string) (string, error) {
	addr := strings.Join(parts, "/")
	if len(addr) > MaxLength {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrAddressTooLong, len(addr), MaxLength)
	}
	return addr, nil
}

// validateSegment checks a single path segment: non-empty and free of
// separator and wildcard characters. The '+' subscription wildcard is
// inserted only by the pattern helpers, never accepted from callers.
func validateSegment(seg string) error {
	if seg == "" {
		return ErrEmptySegment
	}
	if strings.ContainsAny(seg, "/+#") {
		return ErrInvalidSegment
	}
	return nil
}

// validateCategory checks a category path segment by segment. Wildcards are
// allowed here so the subscription helpers can share the standard form.
func validateCategory(category string) error {
	if category == "" {
		return ErrEmptySegment
	}
	for _, seg := range strings.Split(category, "/") {
		if seg == "" {
			return fmt.Errorf("category %q: %w", category, ErrEmptySegment)
		}
		if seg == "+" {
			continue
		}
		if strings.ContainsAny(seg, "+#") {
			return fmt.Errorf("category %q: %w", category, ErrInvalidSegment)
		}
	}
	return nil
}
