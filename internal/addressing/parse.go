package addressing

import (
	"fmt"
	"strconv"
	"strings"
)

// InboundKind classifies a received topic for the dispatch table.
type InboundKind string

const (
	InboundSystemCommand     InboundKind = "system_command"
	InboundEmergency         InboundKind = "emergency"
	InboundActuatorEmergency InboundKind = "actuator_emergency"
	InboundActuatorCommand   InboundKind = "actuator_command"
	InboundZoneConfig        InboundKind = "zone_config"
	InboundSensorConfig      InboundKind = "sensor_config"
	InboundActuatorConfig    InboundKind = "actuator_config"
	InboundSystemUpdate      InboundKind = "system_update"
)

// Inbound is the classification of a received topic.
type Inbound struct {
	Kind InboundKind

	// Pin is the target pin for actuator commands, -1 for everything else.
	Pin int

	// Broadcast reports whether the topic used the fleet-wide form.
	Broadcast bool
}

// ParseInbound classifies a received topic against this builder's identity.
//
// Topics under another root or another node's prefix return
// ErrForeignAddress; topics under this node's prefix with a category the
// core does not handle return ErrUnknownCategory. Both are expected during
// normal operation (shared broker, evolving coordinator), so callers log and
// drop rather than fault.
func (b *Builder) ParseInbound(topic string) (Inbound, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != b.root {
		return Inbound{}, fmt.Errorf("%q: %w", topic, ErrForeignAddress)
	}
	rest := parts[2:]
	category := strings.Join(rest, "/")

	switch parts[1] {
	case broadcastNode:
		switch category {
		case CategoryEmergency:
			return Inbound{Kind: InboundEmergency, Pin: -1, Broadcast: true}, nil
		case CategorySystemUpdate:
			return Inbound{Kind: InboundSystemUpdate, Pin: -1, Broadcast: true}, nil
		}
		return Inbound{}, fmt.Errorf("%q: %w", topic, ErrUnknownCategory)

	case b.node:
		switch category {
		case CategorySystemCommand:
			return Inbound{Kind: InboundSystemCommand, Pin: -1}, nil
		case CategoryEmergency:
			return Inbound{Kind: InboundEmergency, Pin: -1}, nil
		case CategoryActuatorEmergency:
			return Inbound{Kind: InboundActuatorEmergency, Pin: -1}, nil
		case CategoryZoneConfig:
			return Inbound{Kind: InboundZoneConfig, Pin: -1}, nil
		case CategorySensorConfig:
			return Inbound{Kind: InboundSensorConfig, Pin: -1}, nil
		case CategoryActuatorConfig:
			return Inbound{Kind: InboundActuatorConfig, Pin: -1}, nil
		}
		if len(rest) == 3 && rest[0] == "actuator" && rest[2] == "command" {
			pin, err := strconv.Atoi(rest[1])
			if err != nil || pin < 0 {
				return Inbound{}, fmt.Errorf("actuator pin %q: %w", rest[1], ErrUnknownCategory)
			}
			return Inbound{Kind: InboundActuatorCommand, Pin: pin}, nil
		}
		return Inbound{}, fmt.Errorf("%q: %w", topic, ErrUnknownCategory)
	}

	return Inbound{}, fmt.Errorf("%q: %w", topic, ErrForeignAddress)
}
