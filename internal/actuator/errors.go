package actuator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRegistered indicates a control call for a pin with no actuator.
	ErrNotRegistered = errors.New("actuator: not registered")

	// ErrAlreadyRegistered indicates a duplicate registration for a pin.
	ErrAlreadyRegistered = errors.New("actuator: pin already registered")

	// ErrEmergencyStopped indicates a control call refused because the
	// actuator is flagged emergency-stopped.
	ErrEmergencyStopped = errors.New("actuator: emergency stopped")

	// ErrNotArmed indicates a control call on an actuator whose hardware
	// has not been (re)activated. Clearing an emergency flag alone does not
	// arm hardware; only registration or a completed resume does.
	ErrNotArmed = errors.New("actuator: output not armed")

	// ErrInvalidKind indicates an unknown actuator kind in a spec.
	ErrInvalidKind = errors.New("actuator: invalid kind")

	// ErrLevelUnsupported indicates a PWM-class spec on a driver without
	// level shaping.
	ErrLevelUnsupported = errors.New("actuator: driver does not support levels")

	// ErrLevelRange indicates a level outside [0, 100].
	ErrLevelRange = errors.New("actuator: level out of range")

	// ErrVerifyFailed indicates a safety verification readback mismatch.
	ErrVerifyFailed = errors.New("actuator: safety verification failed")
)

// ResumeError reports an aborted resume sequence. Actuators after the named
// pin were left stopped.
type ResumeError struct {
	// Pin is the actuator whose verification failed.
	Pin int

	// Attempts is how many verification attempts were made.
	Attempts int

	// Err is the final verification or re-arm failure.
	Err error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("actuator: resume aborted at pin %d after %d attempts: %v", e.Pin, e.Attempts, e.Err)
}

func (e *ResumeError) Unwrap() error { return e.Err }
