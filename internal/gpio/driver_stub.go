//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: character device not supported on this platform (requires Linux)")

// CdevDriver is not available on non-Linux platforms.
type CdevDriver struct{}

// NewCdevDriver returns an error on non-Linux platforms.
func NewCdevDriver(chipName string) (*CdevDriver, error) {
	return nil, errUnsupported
}

func (d *CdevDriver) ConfigureInput(pin int) error                { return errUnsupported }
func (d *CdevDriver) ConfigureOutput(pin int, initial bool) error { return errUnsupported }
func (d *CdevDriver) Write(pin int, on bool) error                { return errUnsupported }
func (d *CdevDriver) Read(pin int) (bool, error)                  { return false, errUnsupported }
func (d *CdevDriver) Close() error                                { return nil }
