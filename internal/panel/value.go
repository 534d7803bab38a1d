package panel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// ErrBadValue is returned by ParseValue for text that isn't a non-negative number.
var ErrBadValue = errors.New("not a non-negative number")

// ParseValue reads a value typed into the panel. Hex (0x1F) and binary
// (0b1010) are accepted next to decimal, and the leading 0 is optional.
func ParseValue(text string) (int, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return 0, ErrBadValue
	}

	digits, base := text, 10
	if i := strings.IndexByte(text, 'x'); i >= 0 {
		digits, base = text[i+1:], 16
	} else if i := strings.IndexByte(text, 'b'); i >= 0 {
		digits, base = text[i+1:], 2
	}

	n, err := strconv.ParseInt(digits, base, 32)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", text, ErrBadValue)
	}
	if n < 0 {
		return 0, fmt.Errorf("%q: %w", text, ErrBadValue)
	}

	return int(n), nil
}

// Message turns a gateway error into the notice shown to the user.
func Message(err error) string {
	var (
		reserved    gateway.ReservedPinError
		invalid     gateway.InvalidModeError
		unsupported gateway.UnsupportedModeError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &reserved):
		return "That pin is in use as a serial pin and cannot be used."
	case errors.As(err, &invalid) && invalid.Op == "digitalWrite":
		return "You must first set this pin to OUTPUT."
	case errors.As(err, &invalid) && invalid.Op == "analogWrite":
		return "Enable PWM to write values."
	case errors.As(err, &unsupported) && unsupported.Mode == gpio.PWM:
		return "That pin does not support PWM."
	case errors.Is(err, gateway.ErrClosed):
		return "The board is not connected."
	}

	return err.Error()
}
