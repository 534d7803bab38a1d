package gpio

import (
	"fmt"
	"strings"
)

// Level describes the binary state of a GPIO pin: either LOW or HIGH.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// Mode is the operating role assigned to a pin.
type Mode int

const (
	// Unset is the mode of a pin that has never been configured, and of any mode
	// a device reports that we don't recognize.
	Unset Mode = iota
	Input
	Output
	Analog
	PWM
	I2C
)

var modeNames = map[Mode]string{
	Unset:  "UNSET",
	Input:  "INPUT",
	Output: "OUTPUT",
	Analog: "ANALOG",
	PWM:    "PWM",
	I2C:    "I2C",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the names produced by Mode.String, ignoring case.
func ParseMode(s string) (Mode, error) {
	for mode, name := range modeNames {
		if strings.EqualFold(name, s) {
			return mode, nil
		}
	}

	return Unset, fmt.Errorf("unknown pin mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}

	*m = mode
	return nil
}

const (
	// MaxDuty is the largest PWM duty cycle a pin accepts.
	MaxDuty = 255
	// MaxSample is the largest value an analog input reports.
	MaxSample = 1023
)

// ClampDuty limits duty to [0, MaxDuty].
func ClampDuty(duty int) int {
	return clamp(duty, MaxDuty)
}

// ClampSample limits sample to [0, MaxSample].
func ClampSample(sample int) int {
	return clamp(sample, MaxSample)
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// UpdateKind tells which value of an Update is meaningful.
type UpdateKind int

const (
	DigitalUpdate UpdateKind = iota
	AnalogUpdate
)

// Update is an unsolicited value change reported by a device.
type Update struct {
	Pin    int
	Kind   UpdateKind
	Level  Level
	Sample int
}

// Device is the remote board a gateway drives. Requests are fire-and-forget:
// implementations return once the request is handed to the transport and do
// not wait for the board to acknowledge it.
type Device interface {
	// SetPinMode asks the board to switch a pin's mode.
	SetPinMode(pin int, mode Mode) error

	// DigitalWrite sets an output pin to LOW or HIGH.
	DigitalWrite(pin int, level Level) error

	// AnalogWrite sets the PWM duty cycle (0 - 255) of a pin.
	AnalogWrite(pin int, duty int) error

	// Updates delivers values the board reports on its own. The channel is
	// closed when the device is closed or the link goes away.
	Updates() <-chan Update

	Close() error
}

// ErrUnsupported is returned by devices whose transport can't carry a request.
type ErrUnsupported struct {
	Err error
}

func (err ErrUnsupported) Error() string {
	if err.Err == nil {
		return "unsupported request"
	}
	return err.Err.Error()
}

func (err ErrUnsupported) Unwrap() error {
	return err.Err
}

func (err ErrUnsupported) Is(target error) bool {
	_, ok := target.(ErrUnsupported)
	return ok
}
