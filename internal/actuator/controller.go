package actuator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kaiser-home/nodecore/internal/gpio"
	"github.com/kaiser-home/nodecore/internal/infrastructure/logging"
	"github.com/kaiser-home/nodecore/internal/resilience"
)

// Emergency lifecycle states. Wire values appear in status payloads.
const (
	EmergencyNormal    EmergencyState = "NORMAL"
	EmergencyActive    EmergencyState = "ACTIVE"
	EmergencyClearing  EmergencyState = "CLEARING"
	EmergencyVerifying EmergencyState = "VERIFYING"
	EmergencyResuming  EmergencyState = "RESUMING"
)

// EmergencyState identifies where the controller is in the emergency
// lifecycle.
type EmergencyState string

// Record is a read-only snapshot of one actuator.
type Record struct {
	Pin              int
	Kind             Kind
	Name             string
	Critical         bool
	LastValue        float64
	EmergencyStopped bool
	Armed            bool
}

// StopResult reports the outcome of an emergency stop for one actuator.
// The emergency path never fails silently: every pin gets a result.
type StopResult struct {
	Pin     int
	Stopped bool
	Err     error
}

type actuatorRecord struct {
	spec      Spec
	output    Output
	lastValue float64
	stopped   bool
	armed     bool
}

// Controller owns every registered actuator and the emergency lifecycle.
//
// All hardware access flows through it: registration claims the pin from
// the safety layer, control calls are gated on the per-actuator emergency
// flag, and the emergency path hands the entire pin table back to safe
// mode.
type Controller struct {
	mu      sync.Mutex
	safety  *gpio.SafetyManager
	driver  gpio.Driver
	clock   resilience.Clock
	logger  *logging.Logger
	cfg     ResumeConfig
	records map[int]*actuatorRecord
	state   EmergencyState
}

// NewController creates a controller over the given safety layer and
// driver. Zero config fields fall back to the defaults; a nil clock means
// the system clock.
func NewController(safety *gpio.SafetyManager, driver gpio.Driver, cfg ResumeConfig, clock resilience.Clock, logger *logging.Logger) (*Controller, error) {
	if safety == nil {
		return nil, fmt.Errorf("actuator: nil safety manager")
	}
	if driver == nil {
		return nil, fmt.Errorf("actuator: nil driver")
	}
	if cfg.InterActuatorDelay <= 0 {
		cfg.InterActuatorDelay = DefaultInterActuatorDelay
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultVerifyRetryDelay
	}
	if clock == nil {
		clock = resilience.SystemClock()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		safety:  safety,
		driver:  driver,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
		records: make(map[int]*actuatorRecord),
		state:   EmergencyNormal,
	}, nil
}

func ownerID(pin int) gpio.ComponentID {
	return gpio.ComponentID(fmt.Sprintf("actuator:%d", pin))
}

// Register claims the spec's pin, builds its Output and arms it
// de-energised. Pin conflicts from the safety layer propagate as
// *gpio.ConflictError.
func (c *Controller) Register(spec Spec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.records[spec.Pin]; exists {
		return fmt.Errorf("pin %d: %w", spec.Pin, ErrAlreadyRegistered)
	}
	output, err := newOutput(spec, c.driver)
	if err != nil {
		return err
	}
	if err := c.safety.Release(spec.Pin, ownerID(spec.Pin)); err != nil {
		return fmt.Errorf("claim pin %d: %w", spec.Pin, err)
	}
	if err := c.driver.ConfigureOutput(spec.Pin, false); err != nil {
		c.makeSafeQuiet(spec.Pin, "registration failed")
		return fmt.Errorf("arm pin %d: %w", spec.Pin, err)
	}
	c.records[spec.Pin] = &actuatorRecord{spec: spec, output: output, armed: true}
	c.logger.Info("actuator registered",
		"pin", spec.Pin,
		"kind", string(spec.Kind),
		"name", spec.Name,
		"critical", spec.Critical)
	return nil
}

// Deregister stops an actuator, returns its pin to safe mode and drops it.
func (c *Controller) Deregister(pin int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[pin]
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, ErrNotRegistered)
	}
	if rec.armed {
		if err := rec.output.Stop(); err != nil {
			c.logger.Error("stop before deregister failed", "pin", pin, "error", err)
		}
	}
	delete(c.records, pin)
	if err := c.safety.MakeSafe(pin, reason); err != nil {
		return fmt.Errorf("deregister pin %d: %w", pin, err)
	}
	c.logger.Info("actuator deregistered", "pin", pin, "reason", reason)
	return nil
}

// Set drives an actuator to a level in [0, 100]. Refused while the actuator
// is emergency-stopped or disarmed.
func (c *Controller) Set(pin int, level float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[pin]
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, ErrNotRegistered)
	}
	if rec.stopped {
		return fmt.Errorf("pin %d: %w", pin, ErrEmergencyStopped)
	}
	if !rec.armed {
		return fmt.Errorf("pin %d: %w", pin, ErrNotArmed)
	}
	if err := rec.output.Set(level); err != nil {
		return err
	}
	rec.lastValue = level
	c.logger.Debug("actuator set", "pin", pin, "level", level)
	return nil
}

// SetBinary drives a binary actuator on or off under the same gating as Set.
func (c *Controller) SetBinary(pin int, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[pin]
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, ErrNotRegistered)
	}
	if rec.stopped {
		return fmt.Errorf("pin %d: %w", pin, ErrEmergencyStopped)
	}
	if !rec.armed {
		return fmt.Errorf("pin %d: %w", pin, ErrNotArmed)
	}
	if err := rec.output.SetBinary(on); err != nil {
		return err
	}
	if on {
		rec.lastValue = 100
	} else {
		rec.lastValue = 0
	}
	c.logger.Debug("actuator set", "pin", pin, "on", on)
	return nil
}

// EmergencyStop stops a single actuator and returns its pin to safe mode.
// Idempotent. The global emergency state is not changed; only
// EmergencyStopAll latches it.
func (c *Controller) EmergencyStop(pin int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[pin]
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, ErrNotRegistered)
	}
	if rec.stopped && !rec.armed {
		return nil
	}
	var stopErr error
	if rec.armed {
		stopErr = rec.output.Stop()
	}
	rec.stopped = true
	rec.armed = false
	rec.lastValue = 0
	if err := c.safety.MakeSafe(pin, reason); err != nil && stopErr == nil {
		stopErr = err
	}
	c.logger.Warn("actuator emergency stopped", "pin", pin, "reason", reason)
	if stopErr != nil {
		return fmt.Errorf("emergency stop pin %d: %w", pin, stopErr)
	}
	return nil
}

// EmergencyStopAll stops every actuator, flags every record and forces the
// whole pin table safe.
//
// It always returns a per-pin result for every registered actuator; the
// error aggregates output failures and any pins the safety layer could not
// drive safe. Idempotent: a repeat call reports success for the
// already-stopped set.
func (c *Controller) EmergencyStopAll(reason string) ([]StopResult, error) {
	c.mu.Lock()
	c.logger.Warn("emergency stop all", "reason", reason, "actuators", len(c.records))
	c.state = EmergencyActive

	pins := make([]int, 0, len(c.records))
	for pin := range c.records {
		pins = append(pins, pin)
	}
	sort.Ints(pins)

	results := make([]StopResult, 0, len(pins))
	failures := 0
	for _, pin := range pins {
		rec := c.records[pin]
		res := StopResult{Pin: pin}
		switch {
		case rec.stopped && !rec.armed:
			// Already stopped by an earlier call.
			res.Stopped = true
		default:
			if err := rec.output.Stop(); err != nil {
				res.Err = err
				failures++
				c.logger.Error("emergency stop failed", "pin", pin, "error", err)
			} else {
				res.Stopped = true
			}
		}
		rec.stopped = true
		rec.armed = false
		rec.lastValue = 0
		results = append(results, res)
	}
	c.mu.Unlock()

	forceErr := c.safety.ForceAllSafe(reason)

	switch {
	case failures > 0 && forceErr != nil:
		return results, fmt.Errorf("actuator: %d outputs failed to stop; %w", failures, forceErr)
	case failures > 0:
		return results, fmt.Errorf("actuator: %d outputs failed to stop", failures)
	case forceErr != nil:
		return results, forceErr
	}
	return results, nil
}

// EmergencyStopped reports whether an actuator is flagged stopped.
// Unregistered pins report false.
func (c *Controller) EmergencyStopped(pin int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[pin]
	return ok && rec.stopped
}

// ClearEmergencyStop clears one actuator's emergency flag. The hardware is
// not reactivated; only Resume or re-registration arms it again.
func (c *Controller) ClearEmergencyStop(pin int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[pin]
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, ErrNotRegistered)
	}
	rec.stopped = false
	c.logger.Info("emergency flag cleared", "pin", pin)
	return nil
}

// ClearEmergencyStopAll clears every emergency flag as an operator
// acknowledgement. Hardware stays safe; the lifecycle moves to CLEARING.
func (c *Controller) ClearEmergencyStopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cleared := 0
	for _, rec := range c.records {
		if rec.stopped {
			rec.stopped = false
			cleared++
		}
	}
	if c.state == EmergencyActive {
		c.state = EmergencyClearing
	}
	c.logger.Info("emergency flags cleared", "actuators", cleared)
}

// VerifySafety reports whether an actuator is armed, not emergency-stopped,
// and its hardware readback matches the commanded state.
func (c *Controller) VerifySafety(pin int) bool {
	c.mu.Lock()
	rec, ok := c.records[pin]
	if !ok || rec.stopped || !rec.armed {
		c.mu.Unlock()
		return false
	}
	output := rec.output
	c.mu.Unlock()
	if err := output.Verify(); err != nil {
		c.logger.Warn("safety verification failed", "pin", pin, "error", err)
		return false
	}
	return true
}

// State returns the current emergency lifecycle state.
func (c *Controller) State() EmergencyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Record returns the snapshot for one actuator.
func (c *Controller) Record(pin int) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[pin]
	if !ok {
		return Record{}, false
	}
	return c.snapshotLocked(rec), true
}

// Records returns snapshots for every actuator, ascending by pin.
func (c *Controller) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, c.snapshotLocked(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pin < out[j].Pin })
	return out
}

// Count returns the number of registered actuators.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Controller) snapshotLocked(rec *actuatorRecord) Record {
	return Record{
		Pin:              rec.spec.Pin,
		Kind:             rec.spec.Kind,
		Name:             rec.spec.Name,
		Critical:         rec.spec.Critical,
		LastValue:        rec.lastValue,
		EmergencyStopped: rec.stopped,
		Armed:            rec.armed,
	}
}

func (c *Controller) makeSafeQuiet(pin int, reason string) {
	if err := c.safety.MakeSafe(pin, reason); err != nil {
		c.logger.Error("failed to return pin to safe mode", "pin", pin, "error", err)
	}
}
