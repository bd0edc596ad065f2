package actuator

import (
	"fmt"

	"github.com/kaiser-home/nodecore/internal/gpio"
)

// Kind identifies an actuator's output class.
type Kind string

const (
	// KindRelay is a binary output (relay, contactor, SSR).
	KindRelay Kind = "relay"

	// KindPWM is a level-shaped output. Requires a driver with level
	// support.
	KindPWM Kind = "pwm"
)

// Spec describes one actuator from the coordinator's configuration payload.
type Spec struct {
	Pin      int    `json:"pin"`
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
}

// Output is the typed capability interface for one actuator channel.
// Levels are percentages in [0, 100]; binary channels map any positive
// level to on.
type Output interface {
	Pin() int
	Kind() Kind
	Set(level float64) error
	SetBinary(on bool) error

	// Stop drives the channel to its de-energised state.
	Stop() error

	// Verify reads the hardware back and checks it matches the last
	// commanded state. ErrVerifyFailed on mismatch.
	Verify() error
}

// newOutput builds the Output for a spec, checking driver capabilities.
// It does not touch hardware; the controller arms the pin separately.
func newOutput(spec Spec, driver gpio.Driver) (Output, error) {
	switch spec.Kind {
	case KindRelay:
		return &relayOutput{pin: spec.Pin, driver: driver}, nil
	case KindPWM:
		levels, ok := driver.(gpio.LevelWriter)
		if !ok {
			return nil, fmt.Errorf("pin %d: %w", spec.Pin, ErrLevelUnsupported)
		}
		return &pwmOutput{pin: spec.Pin, driver: driver, levels: levels}, nil
	default:
		return nil, fmt.Errorf("kind %q: %w", spec.Kind, ErrInvalidKind)
	}
}

// ===== Relay =====

type relayOutput struct {
	pin    int
	driver gpio.Driver
	lastOn bool
}

func (o *relayOutput) Pin() int   { return o.pin }
func (o *relayOutput) Kind() Kind { return KindRelay }

func (o *relayOutput) Set(level float64) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("level %.1f: %w", level, ErrLevelRange)
	}
	return o.SetBinary(level > 0)
}

func (o *relayOutput) SetBinary(on bool) error {
	if err := o.driver.Write(o.pin, on); err != nil {
		return fmt.Errorf("relay pin %d: %w", o.pin, err)
	}
	o.lastOn = on
	return nil
}

func (o *relayOutput) Stop() error { return o.SetBinary(false) }

func (o *relayOutput) Verify() error {
	got, err := o.driver.Read(o.pin)
	if err != nil {
		return fmt.Errorf("relay pin %d readback: %w", o.pin, err)
	}
	if got != o.lastOn {
		return fmt.Errorf("relay pin %d readback %v, commanded %v: %w", o.pin, got, o.lastOn, ErrVerifyFailed)
	}
	return nil
}

// ===== PWM =====

type pwmOutput struct {
	pin       int
	driver    gpio.Driver
	levels    gpio.LevelWriter
	lastLevel float64
}

func (o *pwmOutput) Pin() int   { return o.pin }
func (o *pwmOutput) Kind() Kind { return KindPWM }

func (o *pwmOutput) Set(level float64) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("level %.1f: %w", level, ErrLevelRange)
	}
	if err := o.levels.WriteLevel(o.pin, level/100); err != nil {
		return fmt.Errorf("pwm pin %d: %w", o.pin, err)
	}
	o.lastLevel = level
	return nil
}

func (o *pwmOutput) SetBinary(on bool) error {
	if on {
		return o.Set(100)
	}
	return o.Set(0)
}

func (o *pwmOutput) Stop() error { return o.Set(0) }

func (o *pwmOutput) Verify() error {
	got, err := o.driver.Read(o.pin)
	if err != nil {
		return fmt.Errorf("pwm pin %d readback: %w", o.pin, err)
	}
	want := o.lastLevel > 0
	if got != want {
		return fmt.Errorf("pwm pin %d readback %v, commanded level %.1f: %w", o.pin, got, o.lastLevel, ErrVerifyFailed)
	}
	return nil
}
