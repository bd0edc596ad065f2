package system

import (
	"github.com/kaiser-home/nodecore/internal/infrastructure/logging"
)

// Transition records one completed state change.
type Transition struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason"`
}

// Controller owns the node's operational state machine.
//
// Not safe for concurrent use: the agent loop is the sole caller, and a
// transition plus its observer side effects complete before the next event
// is processed.
type Controller struct {
	logger       *logging.Logger
	state        State
	prior        State // state a library download interrupted
	last         Transition
	hasLast      bool
	onTransition func(Transition)
}

// NewController starts the machine in BOOT. A nil logger uses the process
// default.
func NewController(logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		logger: logger,
		state:  StateBoot,
	}
}

// SetOnTransition registers an observer invoked synchronously after every
// successful transition. Wire it before the agent loop starts; rejected
// edges never reach it.
func (c *Controller) SetOnTransition(fn func(Transition)) {
	c.onTransition = fn
}

// Current returns the current state.
func (c *Controller) Current() State {
	return c.state
}

// LastTransition returns the most recent completed transition.
func (c *Controller) LastTransition() (Transition, bool) {
	return c.last, c.hasLast
}

// TransitionTo moves the machine to target. Illegal edges return a
// *TransitionError and leave the state unchanged.
func (c *Controller) TransitionTo(target State, reason string) error {
	if !c.legal(c.state, target) {
		c.logger.Warn("illegal state transition rejected",
			"from", string(c.state),
			"to", string(target),
			"reason", reason)
		return &TransitionError{From: c.state, To: target}
	}
	if target == StateLibraryDownload {
		c.prior = c.state
	}
	tr := Transition{From: c.state, To: target, Reason: reason}
	c.state = target
	c.last = tr
	c.hasLast = true
	c.logger.Info("state transition",
		"from", string(tr.From),
		"to", string(tr.To),
		"reason", reason)
	if c.onTransition != nil {
		c.onTransition(tr)
	}
	return nil
}

// legal reports whether from -> to is a permitted edge. SAFE_MODE, ERROR
// and LIBRARY_DOWNLOADING are reachable from every other state; a library
// download additionally exits to the state it interrupted.
func (c *Controller) legal(from, to State) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if from == StateLibraryDownload {
		return to == c.prior || to == StateError || to == StateSafeMode
	}
	switch to {
	case StateSafeMode, StateError, StateLibraryDownload:
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// HandleConnectivityEvent applies a transport signal to the machine.
//
// Connectivity loss from any connected state degrades to WIFI_CONNECTED,
// never ERROR: an unreachable broker leaves the node degraded but alive,
// with local control still running while the resilience layer retries.
func (c *Controller) HandleConnectivityEvent(ev ConnectivityEvent) {
	switch ev {
	case EventLinkUp:
		switch c.state {
		case StateBoot, StateWiFiSetup:
			_ = c.TransitionTo(StateWiFiConnected, "wireless link established")
		default:
			c.logger.Debug("link up ignored", "state", string(c.state))
		}

	case EventLinkLost, EventBrokerLost:
		reason := "broker session lost"
		if ev == EventLinkLost {
			reason = "wireless link lost"
		}
		switch c.state {
		case StateMQTTConnecting, StateMQTTConnected, StateAwaitingConfig,
			StateZoneConfigured, StateSensorsConfigured, StateOperational:
			_ = c.TransitionTo(StateWiFiConnected, reason)
		default:
			c.logger.Debug("connectivity loss outside connected states",
				"event", string(ev), "state", string(c.state))
		}

	case EventBrokerConnecting:
		if c.state == StateWiFiConnected {
			_ = c.TransitionTo(StateMQTTConnecting, "broker connect attempt")
		} else {
			c.logger.Debug("broker connect attempt ignored", "state", string(c.state))
		}

	case EventBrokerConnected:
		if c.state == StateMQTTConnecting {
			_ = c.TransitionTo(StateMQTTConnected, "broker session established")
		} else {
			c.logger.Debug("broker connected ignored", "state", string(c.state))
		}

	default:
		c.logger.Warn("unknown connectivity event", "event", string(ev))
	}
}

// HandleConfigurationEvent advances the configuration sequence. Events
// arriving outside their expected state (a zone re-assignment while
// OPERATIONAL, for example) are logged and dropped; the agent still applies
// the payload.
func (c *Controller) HandleConfigurationEvent(ev ConfigurationEvent) {
	switch ev {
	case EventZoneAssigned:
		if c.state == StateAwaitingConfig {
			_ = c.TransitionTo(StateZoneConfigured, "zone assignment received")
		} else {
			c.logger.Debug("zone assignment outside configuration sequence",
				"state", string(c.state))
		}
	case EventSensorsApplied:
		if c.state == StateZoneConfigured {
			_ = c.TransitionTo(StateSensorsConfigured, "sensor configuration applied")
		} else {
			c.logger.Debug("sensor configuration outside configuration sequence",
				"state", string(c.state))
		}
	case EventActuatorsApplied:
		if c.state == StateSensorsConfigured {
			_ = c.TransitionTo(StateOperational, "actuator configuration applied")
		} else {
			c.logger.Debug("actuator configuration outside configuration sequence",
				"state", string(c.state))
		}
	default:
		c.logger.Warn("unknown configuration event", "event", string(ev))
	}
}

// HandleFault records an unhandled fault and moves the machine to ERROR.
// The agent owns the recovery delay back to BOOT.
func (c *Controller) HandleFault(msg string) {
	if c.state == StateError {
		c.logger.Error("fault while already in ERROR", "fault", msg)
		return
	}
	c.logger.Error("unhandled fault", "fault", msg, "state", string(c.state))
	_ = c.TransitionTo(StateError, msg)
}

// EnterSafeMode moves the machine to SAFE_MODE from any state. Idempotent:
// re-entering while already in SAFE_MODE is a no-op.
func (c *Controller) EnterSafeMode(reason string) {
	if c.state == StateSafeMode {
		c.logger.Warn("safe mode re-entered", "reason", reason)
		return
	}
	_ = c.TransitionTo(StateSafeMode, reason)
}

// BeginLibraryDownload enters LIBRARY_DOWNLOADING, remembering the current
// state so a successful download can restore it.
func (c *Controller) BeginLibraryDownload() error {
	return c.TransitionTo(StateLibraryDownload, "library download requested")
}

// CompleteLibraryDownload exits LIBRARY_DOWNLOADING: back to the
// interrupted state on success, to ERROR on failure.
func (c *Controller) CompleteLibraryDownload(ok bool) error {
	if c.state != StateLibraryDownload {
		return ErrNoDownload
	}
	if ok {
		return c.TransitionTo(c.prior, "library download complete")
	}
	return c.TransitionTo(StateError, "library download failed")
}

// Reinitialize returns the machine to BOOT. Legal only from SAFE_MODE and
// ERROR, and always the result of an explicit operator or recovery action,
// never a bare timeout inside the machine.
func (c *Controller) Reinitialize(reason string) error {
	return c.TransitionTo(StateBoot, reason)
}
