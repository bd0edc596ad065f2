package node

import (
	"github.com/kaiser-home/nodecore/internal/actuator"
	"github.com/kaiser-home/nodecore/internal/store"
)

// Loop events. Transport callbacks and background workers produce them;
// the run loop consumes them strictly in order.
type event interface {
	eventName() string
}

// emergencyEvent is an inbound emergency stop, node-directed or
// fleet-wide.
type emergencyEvent struct {
	// Scope is "system" for the general emergency category, "actuator"
	// for the actuator-subsystem one. Both stop everything.
	Scope         string
	Broadcast     bool
	Reason        string
	CorrelationID string
}

func (emergencyEvent) eventName() string { return "emergency" }

// systemCommandEvent carries one operator command from the coordinator.
type systemCommandEvent struct {
	Command       string
	CorrelationID string
	Library       string
}

func (systemCommandEvent) eventName() string { return "system_command" }

// actuatorCommandEvent is a control request for one registered actuator.
// Exactly one of Level and Binary is set.
type actuatorCommandEvent struct {
	Pin    int
	Level  *float64
	Binary *bool
}

func (actuatorCommandEvent) eventName() string { return "actuator_command" }

type zoneConfigEvent struct {
	Zone store.ZoneAssignment
}

func (zoneConfigEvent) eventName() string { return "zone_config" }

type sensorConfigEvent struct {
	Sensors []store.SensorSpec
}

func (sensorConfigEvent) eventName() string { return "sensor_config" }

type actuatorConfigEvent struct {
	Actuators []actuator.Spec
}

func (actuatorConfigEvent) eventName() string { return "actuator_config" }

// systemUpdateEvent is a fleet-wide update notice. The node records it; a
// separate updater owns the mechanics.
type systemUpdateEvent struct {
	Version string
}

func (systemUpdateEvent) eventName() string { return "system_update" }

// brokerLostEvent is raised by the transport when the session drops.
type brokerLostEvent struct {
	Err error
}

func (brokerLostEvent) eventName() string { return "broker_lost" }

// downloadDoneEvent reports the outcome of a background library download.
type downloadDoneEvent struct {
	Library string
	Err     error
}

func (downloadDoneEvent) eventName() string { return "download_done" }
