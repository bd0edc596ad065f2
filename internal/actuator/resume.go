package actuator

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Default resume pacing. Inter-actuator spacing exists to avoid inrush from
// re-energising a bank of loads simultaneously.
const (
	DefaultInterActuatorDelay = 2 * time.Second
	DefaultMaxRetryAttempts   = 3
	DefaultVerifyRetryDelay   = 500 * time.Millisecond
)

// ResumeConfig controls the staged reactivation sequence.
type ResumeConfig struct {
	// InterActuatorDelay is the pause between re-enabling consecutive
	// actuators.
	InterActuatorDelay time.Duration

	// MaxRetryAttempts is how many verification attempts each actuator
	// gets before the sequence aborts.
	MaxRetryAttempts int

	// RetryDelay is the pause between verification attempts.
	RetryDelay time.Duration

	// CriticalFirst re-enables critical actuators before the rest.
	CriticalFirst bool
}

// DefaultResumeConfig returns the standard resume pacing.
func DefaultResumeConfig() ResumeConfig {
	return ResumeConfig{
		InterActuatorDelay: DefaultInterActuatorDelay,
		MaxRetryAttempts:   DefaultMaxRetryAttempts,
		RetryDelay:         DefaultVerifyRetryDelay,
		CriticalFirst:      true,
	}
}

// Resume re-enables emergency-stopped actuators one at a time.
//
// Each actuator is re-claimed from the safety layer, re-armed de-energised,
// and verified (up to MaxRetryAttempts readback checks) before its flag is
// cleared and the sequence moves on after the inter-actuator delay.
// Critical actuators go first, then ascending pin order.
//
// Any verification that exhausts its retries aborts the sequence with a
// *ResumeError: the failed pin is returned to safe mode and stays flagged,
// and every not-yet-resumed actuator is left stopped. Context cancellation
// (an emergency preempting the resume) aborts the same way between steps.
//
// The call itself is the operator acknowledgement: the lifecycle moves to
// CLEARING on entry, then VERIFYING/RESUMING per actuator.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	pins := c.stoppedPinsLocked()
	if len(pins) == 0 {
		c.state = EmergencyNormal
		c.mu.Unlock()
		c.logger.Info("resume requested with no stopped actuators")
		return nil
	}
	c.state = EmergencyClearing
	c.mu.Unlock()

	c.logger.Info("resume sequence starting",
		"actuators", len(pins),
		"delay", c.cfg.InterActuatorDelay.String())

	for i, pin := range pins {
		if i > 0 {
			c.setState(EmergencyResuming)
			c.clock.Sleep(c.cfg.InterActuatorDelay)
		}
		if err := ctx.Err(); err != nil {
			c.setState(EmergencyActive)
			c.logger.Warn("resume sequence preempted", "remaining", len(pins)-i)
			return fmt.Errorf("resume aborted: %w", err)
		}
		if err := c.resumeOne(ctx, pin); err != nil {
			c.setState(EmergencyActive)
			return err
		}
	}

	c.setState(EmergencyNormal)
	c.logger.Info("resume sequence complete", "actuators", len(pins))
	return nil
}

// resumeOne re-arms and verifies a single actuator.
func (c *Controller) resumeOne(ctx context.Context, pin int) error {
	c.setState(EmergencyVerifying)
	c.mu.Lock()
	rec, ok := c.records[pin]
	c.mu.Unlock()
	if !ok {
		return &ResumeError{Pin: pin, Err: ErrNotRegistered}
	}

	if err := c.safety.Release(pin, ownerID(pin)); err != nil {
		return &ResumeError{Pin: pin, Err: err}
	}
	if err := c.driver.ConfigureOutput(pin, false); err != nil {
		c.makeSafeQuiet(pin, "resume re-arm failed")
		return &ResumeError{Pin: pin, Err: err}
	}
	// Sync the commanded state to de-energised so verification compares
	// against what was actually driven.
	if err := rec.output.Stop(); err != nil {
		c.makeSafeQuiet(pin, "resume re-arm failed")
		return &ResumeError{Pin: pin, Err: err}
	}

	var verifyErr error
	for attempt := 1; attempt <= c.cfg.MaxRetryAttempts; attempt++ {
		verifyErr = rec.output.Verify()
		if verifyErr == nil {
			break
		}
		c.logger.Warn("resume verification failed",
			"pin", pin,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxRetryAttempts,
			"error", verifyErr)
		if attempt < c.cfg.MaxRetryAttempts {
			c.clock.Sleep(c.cfg.RetryDelay)
		}
		if err := ctx.Err(); err != nil {
			c.makeSafeQuiet(pin, "resume preempted")
			return &ResumeError{Pin: pin, Attempts: attempt, Err: err}
		}
	}
	if verifyErr != nil {
		c.makeSafeQuiet(pin, "resume verification failed")
		return &ResumeError{Pin: pin, Attempts: c.cfg.MaxRetryAttempts, Err: verifyErr}
	}

	c.mu.Lock()
	rec.stopped = false
	rec.armed = true
	rec.lastValue = 0
	c.mu.Unlock()
	c.logger.Info("actuator resumed", "pin", pin)
	return nil
}

// stoppedPinsLocked returns the flagged pins in resume order: critical
// actuators first when configured, ascending pin within each group.
func (c *Controller) stoppedPinsLocked() []int {
	pins := make([]int, 0, len(c.records))
	for pin, rec := range c.records {
		if rec.stopped {
			pins = append(pins, pin)
		}
	}
	sort.Slice(pins, func(i, j int) bool {
		a, b := c.records[pins[i]], c.records[pins[j]]
		if c.cfg.CriticalFirst && a.spec.Critical != b.spec.Critical {
			return a.spec.Critical
		}
		return pins[i] < pins[j]
	})
	return pins
}

func (c *Controller) setState(s EmergencyState) {
	c.mu.Lock()
	if c.state != s {
		c.logger.Debug("emergency lifecycle", "from", string(c.state), "to", string(s))
		c.state = s
	}
	c.mu.Unlock()
}
