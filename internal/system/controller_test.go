package system

import (
	"errors"
	"testing"
)

// operational drives a fresh controller through the full configuration
// sequence to OPERATIONAL.
func operational(t *testing.T, c *Controller) {
	t.Helper()
	c.HandleConnectivityEvent(EventLinkUp)
	c.HandleConnectivityEvent(EventBrokerConnecting)
	c.HandleConnectivityEvent(EventBrokerConnected)
	if err := c.TransitionTo(StateAwaitingConfig, "no zone assigned"); err != nil {
		t.Fatalf("to AWAITING_USER_CONFIG: %v", err)
	}
	c.HandleConfigurationEvent(EventZoneAssigned)
	c.HandleConfigurationEvent(EventSensorsApplied)
	c.HandleConfigurationEvent(EventActuatorsApplied)
	if c.Current() != StateOperational {
		t.Fatalf("state = %q, want OPERATIONAL", c.Current())
	}
}

// ===== Happy paths =====

func TestFirstBootSequence(t *testing.T) {
	c := NewController(nil)
	if c.Current() != StateBoot {
		t.Fatalf("initial state = %q, want BOOT", c.Current())
	}

	steps := []struct {
		ev   ConnectivityEvent
		want State
	}{
		{EventLinkUp, StateWiFiConnected},
		{EventBrokerConnecting, StateMQTTConnecting},
		{EventBrokerConnected, StateMQTTConnected},
	}
	for _, step := range steps {
		c.HandleConnectivityEvent(step.ev)
		if c.Current() != step.want {
			t.Fatalf("after %s: state = %q, want %q", step.ev, c.Current(), step.want)
		}
	}

	if err := c.TransitionTo(StateAwaitingConfig, "no zone assigned"); err != nil {
		t.Fatalf("to AWAITING_USER_CONFIG: %v", err)
	}
	cfgSteps := []struct {
		ev   ConfigurationEvent
		want State
	}{
		{EventZoneAssigned, StateZoneConfigured},
		{EventSensorsApplied, StateSensorsConfigured},
		{EventActuatorsApplied, StateOperational},
	}
	for _, step := range cfgSteps {
		c.HandleConfigurationEvent(step.ev)
		if c.Current() != step.want {
			t.Fatalf("after %s: state = %q, want %q", step.ev, c.Current(), step.want)
		}
	}
}

func TestProvisioningPath(t *testing.T) {
	c := NewController(nil)
	if err := c.TransitionTo(StateWiFiSetup, "no stored credentials"); err != nil {
		t.Fatalf("to WIFI_SETUP: %v", err)
	}
	c.HandleConnectivityEvent(EventLinkUp)
	if c.Current() != StateWiFiConnected {
		t.Errorf("state = %q, want WIFI_CONNECTED", c.Current())
	}
}

func TestConfiguredNodeSkipsSequence(t *testing.T) {
	c := NewController(nil)
	c.HandleConnectivityEvent(EventLinkUp)
	c.HandleConnectivityEvent(EventBrokerConnecting)
	c.HandleConnectivityEvent(EventBrokerConnected)

	// A node with a full persisted configuration goes straight to
	// OPERATIONAL.
	if err := c.TransitionTo(StateOperational, "persisted configuration restored"); err != nil {
		t.Fatalf("to OPERATIONAL: %v", err)
	}
}

// ===== Illegal edges =====

func TestIllegalEdgesRejected(t *testing.T) {
	tests := []struct {
		name   string
		drive  func(c *Controller)
		target State
	}{
		{"boot to operational", func(c *Controller) {}, StateOperational},
		{"boot to broker connected", func(c *Controller) {}, StateMQTTConnected},
		{"self transition", func(c *Controller) {}, StateBoot},
		{"skip broker connect", func(c *Controller) {
			c.HandleConnectivityEvent(EventLinkUp)
		}, StateMQTTConnected},
		{"operational to boot", operationalDrive, StateBoot},
		{"operational backwards", operationalDrive, StateMQTTConnected},
		{"safe mode to operational", func(c *Controller) {
			operationalDrive(c)
			c.EnterSafeMode("test")
		}, StateOperational},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(nil)
			tt.drive(c)
			before := c.Current()

			err := c.TransitionTo(tt.target, "test")
			var te *TransitionError
			if !errors.As(err, &te) {
				t.Fatalf("error = %v, want *TransitionError", err)
			}
			if te.From != before || te.To != tt.target {
				t.Errorf("TransitionError = %+v, want %s -> %s", te, before, tt.target)
			}
			if c.Current() != before {
				t.Errorf("state changed to %q by a rejected edge", c.Current())
			}
		})
	}
}

func operationalDrive(c *Controller) {
	c.HandleConnectivityEvent(EventLinkUp)
	c.HandleConnectivityEvent(EventBrokerConnecting)
	c.HandleConnectivityEvent(EventBrokerConnected)
	_ = c.TransitionTo(StateOperational, "persisted configuration restored")
}

// ===== Degraded connectivity =====

// Losing the broker or the link is never a fault: the node returns to
// WIFI_CONNECTED and keeps running degraded.
func TestConnectivityLossDegrades(t *testing.T) {
	for _, ev := range []ConnectivityEvent{EventBrokerLost, EventLinkLost} {
		t.Run(string(ev), func(t *testing.T) {
			c := NewController(nil)
			operational(t, c)

			c.HandleConnectivityEvent(ev)
			if c.Current() != StateWiFiConnected {
				t.Errorf("state = %q, want WIFI_CONNECTED", c.Current())
			}
		})
	}

	// Mid-sequence loss degrades the same way.
	c := NewController(nil)
	c.HandleConnectivityEvent(EventLinkUp)
	c.HandleConnectivityEvent(EventBrokerConnecting)
	c.HandleConnectivityEvent(EventBrokerLost)
	if c.Current() != StateWiFiConnected {
		t.Errorf("state = %q, want WIFI_CONNECTED", c.Current())
	}

	// Loss before any session exists is a no-op.
	fresh := NewController(nil)
	fresh.HandleConnectivityEvent(EventBrokerLost)
	if fresh.Current() != StateBoot {
		t.Errorf("state = %q, want BOOT", fresh.Current())
	}
}

func TestReconnectAfterDegrade(t *testing.T) {
	c := NewController(nil)
	operational(t, c)
	c.HandleConnectivityEvent(EventBrokerLost)

	c.HandleConnectivityEvent(EventBrokerConnecting)
	c.HandleConnectivityEvent(EventBrokerConnected)
	if c.Current() != StateMQTTConnected {
		t.Fatalf("state = %q, want MQTT_CONNECTED", c.Current())
	}
	// Configuration survives in the store, so the node returns straight
	// to OPERATIONAL.
	if err := c.TransitionTo(StateOperational, "configuration restored"); err != nil {
		t.Fatalf("to OPERATIONAL: %v", err)
	}
}

// ===== Safe mode =====

func TestSafeMode(t *testing.T) {
	c := NewController(nil)
	operational(t, c)

	var observed []Transition
	c.SetOnTransition(func(tr Transition) { observed = append(observed, tr) })

	c.EnterSafeMode("emergency stop")
	if c.Current() != StateSafeMode {
		t.Fatalf("state = %q, want SAFE_MODE", c.Current())
	}

	// Re-entry is a no-op, not a second transition.
	c.EnterSafeMode("emergency repeated")
	if len(observed) != 1 {
		t.Errorf("observer saw %d transitions, want 1", len(observed))
	}

	if err := c.Reinitialize("operator restart"); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}
	if c.Current() != StateBoot {
		t.Errorf("state = %q, want BOOT", c.Current())
	}
}

// ===== Faults =====

func TestFaultAndRecovery(t *testing.T) {
	c := NewController(nil)
	operational(t, c)

	count := 0
	c.SetOnTransition(func(Transition) { count++ })

	c.HandleFault("subsystem init failed")
	if c.Current() != StateError {
		t.Fatalf("state = %q, want ERROR", c.Current())
	}
	c.HandleFault("second fault")
	if count != 1 {
		t.Errorf("observer saw %d transitions, want 1", count)
	}

	if err := c.Reinitialize("recovery delay elapsed"); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}
	if c.Current() != StateBoot {
		t.Errorf("state = %q, want BOOT", c.Current())
	}
}

// ===== Library download =====

func TestLibraryDownloadRestoresPriorState(t *testing.T) {
	c := NewController(nil)
	operational(t, c)

	if err := c.BeginLibraryDownload(); err != nil {
		t.Fatalf("BeginLibraryDownload: %v", err)
	}
	if c.Current() != StateLibraryDownload {
		t.Fatalf("state = %q, want LIBRARY_DOWNLOADING", c.Current())
	}
	if err := c.BeginLibraryDownload(); err == nil {
		t.Error("second download accepted while one is in progress")
	}

	if err := c.CompleteLibraryDownload(true); err != nil {
		t.Fatalf("CompleteLibraryDownload: %v", err)
	}
	if c.Current() != StateOperational {
		t.Errorf("state = %q, want OPERATIONAL restored", c.Current())
	}
}

func TestLibraryDownloadFailure(t *testing.T) {
	c := NewController(nil)
	c.HandleConnectivityEvent(EventLinkUp)

	if err := c.BeginLibraryDownload(); err != nil {
		t.Fatalf("BeginLibraryDownload: %v", err)
	}
	if err := c.CompleteLibraryDownload(false); err != nil {
		t.Fatalf("CompleteLibraryDownload: %v", err)
	}
	if c.Current() != StateError {
		t.Errorf("state = %q, want ERROR", c.Current())
	}
}

func TestCompleteDownloadWithoutOne(t *testing.T) {
	c := NewController(nil)
	if err := c.CompleteLibraryDownload(true); !errors.Is(err, ErrNoDownload) {
		t.Errorf("error = %v, want ErrNoDownload", err)
	}
}

// ===== Events outside their state =====

func TestConfigurationEventsOutsideSequence(t *testing.T) {
	c := NewController(nil)
	operational(t, c)

	// A zone re-assignment while OPERATIONAL does not move the machine;
	// the agent re-applies the payload without a state change.
	c.HandleConfigurationEvent(EventZoneAssigned)
	if c.Current() != StateOperational {
		t.Errorf("state = %q, want OPERATIONAL", c.Current())
	}

	fresh := NewController(nil)
	fresh.HandleConfigurationEvent(EventSensorsApplied)
	if fresh.Current() != StateBoot {
		t.Errorf("state = %q, want BOOT", fresh.Current())
	}
}

// ===== Observer =====

func TestObserverSequence(t *testing.T) {
	c := NewController(nil)
	var observed []Transition
	c.SetOnTransition(func(tr Transition) { observed = append(observed, tr) })

	c.HandleConnectivityEvent(EventLinkUp)
	_ = c.TransitionTo(StateOperational, "illegal") // rejected, must not fire
	c.HandleConnectivityEvent(EventBrokerConnecting)

	want := []Transition{
		{From: StateBoot, To: StateWiFiConnected, Reason: "wireless link established"},
		{From: StateWiFiConnected, To: StateMQTTConnecting, Reason: "broker connect attempt"},
	}
	if len(observed) != len(want) {
		t.Fatalf("observer saw %d transitions, want %d", len(observed), len(want))
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Errorf("transition %d = %+v, want %+v", i, observed[i], want[i])
		}
	}

	last, ok := c.LastTransition()
	if !ok || last != want[1] {
		t.Errorf("LastTransition = %+v ok=%v, want %+v", last, ok, want[1])
	}
}
