package system

// ConnectivityEvent is a transport-layer signal about the wireless link or
// the broker session. Events that do not apply in the current state are
// logged and dropped.
type ConnectivityEvent string

const (
	// EventLinkUp: the wireless link came up with stored credentials.
	EventLinkUp ConnectivityEvent = "link_up"

	// EventLinkLost: the wireless link dropped.
	EventLinkLost ConnectivityEvent = "link_lost"

	// EventBrokerConnecting: a broker connect attempt started.
	EventBrokerConnecting ConnectivityEvent = "broker_connecting"

	// EventBrokerConnected: the broker session was established.
	EventBrokerConnected ConnectivityEvent = "broker_connected"

	// EventBrokerLost: the broker session dropped.
	EventBrokerLost ConnectivityEvent = "broker_lost"
)

// ConfigurationEvent is a signal that a configuration payload was received
// and applied by the agent.
type ConfigurationEvent string

const (
	// EventZoneAssigned: a zone assignment arrived and was persisted.
	EventZoneAssigned ConfigurationEvent = "zone_assigned"

	// EventSensorsApplied: a sensor configuration was applied.
	EventSensorsApplied ConfigurationEvent = "sensors_applied"

	// EventActuatorsApplied: an actuator configuration was applied; the
	// node is fully configured.
	EventActuatorsApplied ConfigurationEvent = "actuators_applied"
)
