package gateway

import (
	"errors"
	"fmt"

	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// ErrClosed is returned once the gateway is closed or its device went away.
var ErrClosed = errors.New("gateway is not connected to a device")

// UnknownPinError is returned for pins outside the attached board's range.
type UnknownPinError struct {
	Pin int
}

func (err UnknownPinError) Error() string {
	return fmt.Sprintf("pin %d does not exist on this board", err.Pin)
}

func (err UnknownPinError) Is(target error) bool {
	_, ok := target.(UnknownPinError)
	return ok
}

// ReservedPinError is returned for any mutation of a pin dedicated to the host link.
type ReservedPinError struct {
	Pin int
}

func (err ReservedPinError) Error() string {
	return fmt.Sprintf("pin %d is in use as a serial pin and cannot be used", err.Pin)
}

func (err ReservedPinError) Is(target error) bool {
	_, ok := target.(ReservedPinError)
	return ok
}

// UnsupportedModeError is returned when a mode is illegal for a pin's kind.
type UnsupportedModeError struct {
	Pin  int
	Kind hardware.Kind
	Mode gpio.Mode
}

func (err UnsupportedModeError) Error() string {
	return fmt.Sprintf("%s pin %d does not support %s mode", err.Kind, err.Pin, err.Mode)
}

func (err UnsupportedModeError) Is(target error) bool {
	_, ok := target.(UnsupportedModeError)
	return ok
}

// InvalidModeError is returned when an operation is illegal in a pin's current mode.
type InvalidModeError struct {
	Pin  int
	Op   string
	Mode gpio.Mode
}

func (err InvalidModeError) Error() string {
	return fmt.Sprintf("can't %s pin %d while it is in %s mode", err.Op, err.Pin, err.Mode)
}

func (err InvalidModeError) Is(target error) bool {
	_, ok := target.(InvalidModeError)
	return ok
}
