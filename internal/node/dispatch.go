package node

import (
	"encoding/json"
	"fmt"

	"github.com/kaiser-home/nodecore/internal/actuator"
	"github.com/kaiser-home/nodecore/internal/addressing"
	"github.com/kaiser-home/nodecore/internal/store"
)

// decoder turns one classified inbound payload into a loop event.
// Decoders are pure: no state, no side effects, so they can run on the
// transport goroutine before the handoff to the loop.
type decoder func(in addressing.Inbound, payload []byte) (event, error)

func defaultDecoders() map[addressing.InboundKind]decoder {
	return map[addressing.InboundKind]decoder{
		addressing.InboundEmergency:         decodeEmergency,
		addressing.InboundActuatorEmergency: decodeActuatorEmergency,
		addressing.InboundSystemCommand:     decodeSystemCommand,
		addressing.InboundActuatorCommand:   decodeActuatorCommand,
		addressing.InboundZoneConfig:        decodeZoneConfig,
		addressing.InboundSensorConfig:      decodeSensorConfig,
		addressing.InboundActuatorConfig:    decodeActuatorConfig,
		addressing.InboundSystemUpdate:      decodeSystemUpdate,
	}
}

// decodeEmergency accepts any payload: an emergency must never be dropped
// over malformed JSON. Missing fields mean an anonymous stop.
func decodeEmergency(in addressing.Inbound, payload []byte) (event, error) {
	ev := emergencyEvent{Scope: "system", Broadcast: in.Broadcast}
	var body struct {
		Reason        string `json:"reason"`
		CorrelationID string `json:"correlation_id"`
	}
	if len(payload) > 0 && json.Unmarshal(payload, &body) == nil {
		ev.Reason = body.Reason
		ev.CorrelationID = body.CorrelationID
	}
	if ev.Reason == "" {
		ev.Reason = "emergency stop requested"
	}
	return ev, nil
}

func decodeActuatorEmergency(in addressing.Inbound, payload []byte) (event, error) {
	raw, err := decodeEmergency(in, payload)
	if err != nil {
		return nil, err
	}
	ev, ok := raw.(emergencyEvent)
	if !ok {
		return nil, fmt.Errorf("actuator emergency: unexpected event type")
	}
	ev.Scope = "actuator"
	return ev, nil
}

func decodeSystemCommand(_ addressing.Inbound, payload []byte) (event, error) {
	var body struct {
		Command       string `json:"command"`
		CorrelationID string `json:"correlation_id"`
		Library       string `json:"library"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("system command: %w", err)
	}
	if body.Command == "" {
		return nil, fmt.Errorf("system command: missing command field")
	}
	return systemCommandEvent{
		Command:       body.Command,
		CorrelationID: body.CorrelationID,
		Library:       body.Library,
	}, nil
}

func decodeActuatorCommand(in addressing.Inbound, payload []byte) (event, error) {
	var body struct {
		Level  *float64 `json:"level"`
		Binary *bool    `json:"binary"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("actuator command: %w", err)
	}
	if body.Level == nil && body.Binary == nil {
		return nil, fmt.Errorf("actuator command: needs a level or binary field")
	}
	if body.Level != nil && body.Binary != nil {
		return nil, fmt.Errorf("actuator command: level and binary are mutually exclusive")
	}
	return actuatorCommandEvent{Pin: in.Pin, Level: body.Level, Binary: body.Binary}, nil
}

func decodeZoneConfig(_ addressing.Inbound, payload []byte) (event, error) {
	var zone store.ZoneAssignment
	if err := json.Unmarshal(payload, &zone); err != nil {
		return nil, fmt.Errorf("zone config: %w", err)
	}
	if zone.MasterZone == "" || zone.Subzone == "" {
		return nil, fmt.Errorf("zone config: master_zone and subzone are required")
	}
	return zoneConfigEvent{Zone: zone}, nil
}

// decodeSensorConfig requires the sensors key to be present; an empty list
// is a deliberate zero-sensor configuration and is accepted.
func decodeSensorConfig(_ addressing.Inbound, payload []byte) (event, error) {
	var body struct {
		Sensors []store.SensorSpec `json:"sensors"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("sensor config: %w", err)
	}
	if body.Sensors == nil {
		return nil, fmt.Errorf("sensor config: missing sensors field")
	}
	return sensorConfigEvent{Sensors: body.Sensors}, nil
}

func decodeActuatorConfig(_ addressing.Inbound, payload []byte) (event, error) {
	var body struct {
		Actuators []actuator.Spec `json:"actuators"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("actuator config: %w", err)
	}
	if body.Actuators == nil {
		return nil, fmt.Errorf("actuator config: missing actuators field")
	}
	return actuatorConfigEvent{Actuators: body.Actuators}, nil
}

func decodeSystemUpdate(_ addressing.Inbound, payload []byte) (event, error) {
	var body struct {
		Version string `json:"version"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("system update: %w", err)
		}
	}
	return systemUpdateEvent{Version: body.Version}, nil
}
