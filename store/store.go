package store

import (
	"errors"
	"io"

	"github.com/turkycat/remote-wiring-experience/hardware"
)

// ErrNotFound is returned for settings that were never stored.
var ErrNotFound = errors.New("not found")

// Store describes a persistent storage engine for panel settings.
type Store interface {
	HardwareConfig() (hardware.Config, error)
	PutHardwareConfig(h hardware.Config) error

	// Labels maps pin numbers to the names users gave them.
	Labels() (map[int]string, error)
	// PutLabel names a pin. An empty label removes the name.
	PutLabel(pin int, label string) error

	io.Closer
}
