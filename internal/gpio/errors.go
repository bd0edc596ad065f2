package gpio

import "errors"

var (
	// ErrPinNotConfigured indicates a driver operation on a pin that has not
	// been configured as input or output.
	ErrPinNotConfigured = errors.New("gpio: pin not configured")

	// ErrPinNotOutput indicates a write to a pin configured as input.
	ErrPinNotOutput = errors.New("gpio: pin not configured as output")

	// ErrDriverClosed indicates an operation on a closed driver.
	ErrDriverClosed = errors.New("gpio: driver closed")

	// ErrEmptyOwner indicates a pin claim without a component identity.
	ErrEmptyOwner = errors.New("gpio: empty owner")
)
