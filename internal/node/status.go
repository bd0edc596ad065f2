package node

import (
	"encoding/json"

	"github.com/kaiser-home/nodecore/internal/audit"
)

// Wire payloads the agent publishes. Field names are shared with the
// coordinator and are part of the contract.

// offlineState is the pseudo-state in the retained status document while
// the node is away, whether by will or by clean shutdown.
const offlineState = "OFFLINE"

// statusPayload is the retained node status document, republished on
// every state transition.
type statusPayload struct {
	NodeID        string `json:"node_id"`
	State         string `json:"state"`
	Session       string `json:"session"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Previous      string `json:"previous,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// actuatorStatusPayload is the retained per-actuator status document.
type actuatorStatusPayload struct {
	Pin              int     `json:"pin"`
	Kind             string  `json:"kind"`
	Name             string  `json:"name,omitempty"`
	Value            float64 `json:"value"`
	EmergencyStopped bool    `json:"emergency_stopped"`
}

// emergencyAckPayload answers an emergency command.
type emergencyAckPayload struct {
	Success       bool   `json:"success"`
	NodeID        string `json:"node_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Stopped       int    `json:"stopped"`
	Failed        []int  `json:"failed,omitempty"`
}

// sensorReadingPayload is one published measurement. The same shape goes
// to the broker and to the enrichment service.
type sensorReadingPayload struct {
	NodeID string  `json:"node_id"`
	Pin    int     `json:"pin"`
	Name   string  `json:"name,omitempty"`
	Kind   string  `json:"kind,omitempty"`
	Value  float64 `json:"value"`
	At     string  `json:"at"`
}

// diagnosticsPayload answers a diagnostics command.
type diagnosticsPayload struct {
	NodeID          string              `json:"node_id"`
	State           string              `json:"state"`
	Session         string              `json:"session"`
	UptimeSeconds   int64               `json:"uptime_seconds"`
	EmergencyState  string              `json:"emergency_state"`
	Actuators       int                 `json:"actuators"`
	SafePins        int                 `json:"safe_pins"`
	NonReservedPins int                 `json:"non_reserved_pins"`
	RetryCount      int                 `json:"retry_count"`
	BreakerState    string              `json:"breaker_state,omitempty"`
	RecentEvents    []audit.SafetyEvent `json:"recent_events"`
}

// OfflineStatus builds the retained will payload the broker publishes on
// an ungraceful disconnect. Exposed so the will can be registered with
// the transport before the agent exists.
func OfflineStatus(nodeID, session string) []byte {
	data, _ := json.Marshal(statusPayload{
		NodeID:  nodeID,
		State:   offlineState,
		Session: session,
	})
	return data
}
