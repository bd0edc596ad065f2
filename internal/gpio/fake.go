package gpio

import (
	"fmt"
	"sync"
)

// Pin modes tracked by FakeDriver.
const (
	ModeUnset  = "unset"
	ModeInput  = "input"
	ModeOutput = "output"
)

// Op is one recorded FakeDriver operation.
type Op struct {
	Action string // "input", "output", "write", "level"
	Pin    int
	On     bool
	Level  float64
}

// FakeDriver is a scriptable test double for Driver.
//
// It records every operation, tracks pin modes and last-driven values, and
// can be scripted to fail specific pins or return specific read values. It
// also implements LevelWriter; tests that need a binary-only driver wrap it
// in a struct embedding only the Driver interface.
type FakeDriver struct {
	mu     sync.Mutex
	modes  map[int]string
	values map[int]bool
	levels map[int]float64
	ops    []Op

	// ConfigureErr, WriteErr and ReadErr script per-pin failures.
	ConfigureErr map[int]error
	WriteErr     map[int]error
	ReadErr      map[int]error

	// ReadValues overrides the readback for specific pins, simulating
	// hardware that does not follow what was driven (e.g. a stuck relay).
	ReadValues map[int]bool

	Closed bool
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		modes:        make(map[int]string),
		values:       make(map[int]bool),
		levels:       make(map[int]float64),
		ConfigureErr: make(map[int]error),
		WriteErr:     make(map[int]error),
		ReadErr:      make(map[int]error),
		ReadValues:   make(map[int]bool),
	}
}

// ConfigureInput records the pin as high-impedance input.
func (d *FakeDriver) ConfigureInput(pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ConfigureErr[pin]; err != nil {
		return err
	}
	d.modes[pin] = ModeInput
	delete(d.values, pin)
	delete(d.levels, pin)
	d.ops = append(d.ops, Op{Action: "input", Pin: pin})
	return nil
}

// ConfigureOutput records the pin as output at the initial level.
func (d *FakeDriver) ConfigureOutput(pin int, initial bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ConfigureErr[pin]; err != nil {
		return err
	}
	d.modes[pin] = ModeOutput
	d.values[pin] = initial
	d.ops = append(d.ops, Op{Action: "output", Pin: pin, On: initial})
	return nil
}

// Write records a level change on an output pin.
func (d *FakeDriver) Write(pin int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.WriteErr[pin]; err != nil {
		return err
	}
	if d.modes[pin] != ModeOutput {
		return fmt.Errorf("pin %d: %w", pin, ErrPinNotOutput)
	}
	d.values[pin] = on
	d.ops = append(d.ops, Op{Action: "write", Pin: pin, On: on})
	return nil
}

// WriteLevel records a fractional level on an output pin.
func (d *FakeDriver) WriteLevel(pin int, level float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.WriteErr[pin]; err != nil {
		return err
	}
	if d.modes[pin] != ModeOutput {
		return fmt.Errorf("pin %d: %w", pin, ErrPinNotOutput)
	}
	d.levels[pin] = level
	d.values[pin] = level > 0
	d.ops = append(d.ops, Op{Action: "level", Pin: pin, Level: level})
	return nil
}

// Read returns the scripted or last-driven value for the pin.
func (d *FakeDriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ReadErr[pin]; err != nil {
		return false, err
	}
	if v, ok := d.ReadValues[pin]; ok {
		return v, nil
	}
	if d.modes[pin] == ModeUnset || d.modes[pin] == "" {
		return false, fmt.Errorf("pin %d: %w", pin, ErrPinNotConfigured)
	}
	return d.values[pin], nil
}

// Close marks the driver closed.
func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

// Mode returns the recorded mode for a pin.
func (d *FakeDriver) Mode(pin int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.modes[pin]; ok {
		return m
	}
	return ModeUnset
}

// Value returns the last driven value for a pin.
func (d *FakeDriver) Value(pin int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[pin]
}

// LastLevel returns the last fractional level written to a pin.
func (d *FakeDriver) LastLevel(pin int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[pin]
}

// Ops returns a copy of the recorded operation log.
func (d *FakeDriver) Ops() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Op, len(d.ops))
	copy(out, d.ops)
	return out
}

// OpsFor returns the recorded operations touching one pin.
func (d *FakeDriver) OpsFor(pin int) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Op
	for _, op := range d.ops {
		if op.Pin == pin {
			out = append(out, op)
		}
	}
	return out
}
