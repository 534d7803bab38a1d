package gateway

import (
	"fmt"
	"time"

	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// Pin is the state of one pin. Mode decides which of Level, Sample and Duty
// means anything: Level in INPUT and OUTPUT, Sample in ANALOG, Duty in PWM.
type Pin struct {
	Number   int           `json:"pin"`
	Name     string        `json:"name"`
	Kind     hardware.Kind `json:"kind"`
	Reserved bool          `json:"reserved"`

	Mode   gpio.Mode  `json:"mode"`
	Level  gpio.Level `json:"level"`
	Sample int        `json:"sample"`
	Duty   int        `json:"duty"`
}

// Origin tells who caused a change.
type Origin int

const (
	// OriginRequest changes come from a client calling the gateway.
	OriginRequest Origin = iota
	// OriginDevice changes were reported by the board on its own.
	OriginDevice
)

func (o Origin) String() string {
	switch o {
	case OriginRequest:
		return "request"
	case OriginDevice:
		return "device"
	}

	return fmt.Sprintf("Origin(%d)", int(o))
}

func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Origin) UnmarshalText(text []byte) error {
	switch string(text) {
	case "request":
		*o = OriginRequest
	case "device":
		*o = OriginDevice
	default:
		return fmt.Errorf("unknown origin %q", text)
	}

	return nil
}

// Cause tells what changed.
type Cause int

const (
	ModeChanged Cause = iota
	ValueChanged
)

func (c Cause) String() string {
	switch c {
	case ModeChanged:
		return "mode"
	case ValueChanged:
		return "value"
	}

	return fmt.Sprintf("Cause(%d)", int(c))
}

func (c Cause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cause) UnmarshalText(text []byte) error {
	switch string(text) {
	case "mode":
		*c = ModeChanged
	case "value":
		*c = ValueChanged
	default:
		return fmt.Errorf("unknown cause %q", text)
	}

	return nil
}

// Change is an immutable record of one state transition. Pin is a full
// snapshot taken after the transition, so mode and value always agree.
type Change struct {
	Seq    uint64    `json:"seq"`
	Pin    Pin       `json:"state"`
	Cause  Cause     `json:"cause"`
	Origin Origin    `json:"origin"`
	Time   time.Time `json:"time"`
}
