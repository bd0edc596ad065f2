//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver drives pins through the Linux GPIO character device.
//
// Lines are requested lazily on first configuration and reconfigured in
// place afterwards, so a pin can move between input and output without
// releasing the line.
type CdevDriver struct {
	mu      sync.Mutex
	chip    *gpiocdev.Chip
	lines   map[int]*gpiocdev.Line
	outputs map[int]bool
	closed  bool
}

// NewCdevDriver opens the named GPIO chip (e.g. "gpiochip0").
func NewCdevDriver(chipName string) (*CdevDriver, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %q: %w", chipName, err)
	}
	return &CdevDriver{
		chip:    chip,
		lines:   make(map[int]*gpiocdev.Line),
		outputs: make(map[int]bool),
	}, nil
}

// ConfigureInput puts the pin in high-impedance input mode.
func (d *CdevDriver) ConfigureInput(pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDriverClosed
	}
	if line, ok := d.lines[pin]; ok {
		if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
			return fmt.Errorf("reconfigure pin %d as input: %w", pin, err)
		}
		delete(d.outputs, pin)
		return nil
	}
	line, err := d.chip.RequestLine(pin, gpiocdev.AsInput)
	if err != nil {
		return fmt.Errorf("request pin %d as input: %w", pin, err)
	}
	d.lines[pin] = line
	return nil
}

// ConfigureOutput puts the pin in output mode driving the initial level.
func (d *CdevDriver) ConfigureOutput(pin int, initial bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDriverClosed
	}
	value := 0
	if initial {
		value = 1
	}
	if line, ok := d.lines[pin]; ok {
		if err := line.Reconfigure(gpiocdev.AsOutput(value)); err != nil {
			return fmt.Errorf("reconfigure pin %d as output: %w", pin, err)
		}
		d.outputs[pin] = true
		return nil
	}
	line, err := d.chip.RequestLine(pin, gpiocdev.AsOutput(value))
	if err != nil {
		return fmt.Errorf("request pin %d as output: %w", pin, err)
	}
	d.lines[pin] = line
	d.outputs[pin] = true
	return nil
}

// Write drives an output pin.
func (d *CdevDriver) Write(pin int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDriverClosed
	}
	line, ok := d.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, ErrPinNotConfigured)
	}
	if !d.outputs[pin] {
		return fmt.Errorf("pin %d: %w", pin, ErrPinNotOutput)
	}
	value := 0
	if on {
		value = 1
	}
	if err := line.SetValue(value); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Read returns the current pin level.
func (d *CdevDriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ErrDriverClosed
	}
	line, ok := d.lines[pin]
	if !ok {
		return false, fmt.Errorf("pin %d: %w", pin, ErrPinNotConfigured)
	}
	raw, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return raw != 0, nil
}

// Close returns every requested line to input mode and releases it.
// Reconfiguring before close leaves the header in its boot-default state so
// attached hardware is not left energised across a restart.
func (d *CdevDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for pin, line := range d.lines {
		if d.outputs[pin] {
			if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
				errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
			}
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	if err := d.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
