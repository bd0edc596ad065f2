package system

// State identifies where the node is in its operational lifecycle. Exactly
// one state is current at any time, owned by the Controller and mutated
// only through its transition function. Wire values appear in status
// payloads.
type State string

const (
	// StateBoot: process start, nothing initialised yet.
	StateBoot State = "BOOT"

	// StateWiFiSetup: no stored network credentials; waiting for
	// provisioning.
	StateWiFiSetup State = "WIFI_SETUP"

	// StateWiFiConnected: wireless link up, no broker session. Also the
	// degraded state after any connectivity loss.
	StateWiFiConnected State = "WIFI_CONNECTED"

	// StateMQTTConnecting: a broker connect attempt is in flight.
	StateMQTTConnecting State = "MQTT_CONNECTING"

	// StateMQTTConnected: broker session established, configuration not
	// yet evaluated.
	StateMQTTConnected State = "MQTT_CONNECTED"

	// StateAwaitingConfig: connected but no zone assigned; waiting for
	// an operator.
	StateAwaitingConfig State = "AWAITING_USER_CONFIG"

	// StateZoneConfigured: zone assignment received.
	StateZoneConfigured State = "ZONE_CONFIGURED"

	// StateSensorsConfigured: sensor configuration applied.
	StateSensorsConfigured State = "SENSORS_CONFIGURED"

	// StateOperational: fully configured and serving.
	StateOperational State = "OPERATIONAL"

	// StateLibraryDownload: an operator-initiated library download is in
	// progress; the interrupted state is restored on success.
	StateLibraryDownload State = "LIBRARY_DOWNLOADING"

	// StateSafeMode: all actuators stopped and all non-reserved pins
	// forced safe. Left only by explicit reinitialisation, never a
	// timeout.
	StateSafeMode State = "SAFE_MODE"

	// StateError: unhandled fault; recovers to BOOT after the configured
	// delay.
	StateError State = "ERROR"
)

func (s State) String() string { return string(s) }

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// transitions lists the legal forward edges per state.
//
// Three targets are reachable from everywhere and are checked in
// legalLocked instead of being repeated on every row: SAFE_MODE, ERROR and
// LIBRARY_DOWNLOADING. A library download exits to the state it
// interrupted, which only the controller instance knows.
var transitions = map[State][]State{
	StateBoot:              {StateWiFiSetup, StateWiFiConnected},
	StateWiFiSetup:         {StateWiFiConnected},
	StateWiFiConnected:     {StateMQTTConnecting},
	StateMQTTConnecting:    {StateMQTTConnected, StateWiFiConnected},
	StateMQTTConnected:     {StateAwaitingConfig, StateOperational, StateWiFiConnected},
	StateAwaitingConfig:    {StateZoneConfigured, StateWiFiConnected},
	StateZoneConfigured:    {StateSensorsConfigured, StateWiFiConnected},
	StateSensorsConfigured: {StateOperational, StateWiFiConnected},
	StateOperational:       {StateWiFiConnected},
	StateLibraryDownload:   {},
	StateSafeMode:          {StateBoot},
	StateError:             {StateBoot},
}
