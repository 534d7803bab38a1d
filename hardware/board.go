package hardware

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// Kind is the hardware class of a pin, fixed by the board.
type Kind int

const (
	// Digital pins can only be read or driven HIGH/LOW.
	Digital Kind = iota
	// PWMCapable pins are digital pins that can also generate PWM.
	PWMCapable
	// AnalogCapable pins are wired to the analog to digital converter.
	AnalogCapable
)

func (k Kind) String() string {
	switch k {
	case Digital:
		return "digital"
	case PWMCapable:
		return "pwm"
	case AnalogCapable:
		return "analog"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for _, kind := range []Kind{Digital, PWMCapable, AnalogCapable} {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}

	return fmt.Errorf("unknown pin kind %q", text)
}

// Board describes the pin layout of a board model. Analog pins are numbered
// directly after the digital ones, so on an Uno A0 is pin 14.
type Board struct {
	Name          string
	DigitalPins   int
	AnalogPins    int
	PWMPins       []int
	I2CPins       []int
	ReservedPins  []int
	pwm, i2c, rsv map[int]bool
}

func newBoard(b Board) Board {
	b.pwm = setOf(b.PWMPins)
	b.i2c = setOf(b.I2CPins)
	b.rsv = setOf(b.ReservedPins)
	return b
}

func setOf(pins []int) map[int]bool {
	set := make(map[int]bool, len(pins))
	for _, p := range pins {
		set[p] = true
	}
	return set
}

var (
	// Uno is the Arduino Uno and boards sharing its layout (Duemilanove, Nano
	// without A6/A7). Pins 0 and 1 carry the serial link to the host.
	Uno = newBoard(Board{
		Name:         "uno",
		DigitalPins:  14,
		AnalogPins:   6,
		PWMPins:      []int{3, 5, 6, 9, 10, 11, 13},
		I2CPins:      []int{18, 19},
		ReservedPins: []int{0, 1},
	})

	// Mega2560 is the Arduino Mega 2560.
	Mega2560 = newBoard(Board{
		Name:         "mega2560",
		DigitalPins:  54,
		AnalogPins:   16,
		PWMPins:      []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 44, 45, 46},
		I2CPins:      []int{20, 21},
		ReservedPins: []int{0, 1},
	})
)

var boards = map[string]Board{
	Uno.Name:      Uno,
	Mega2560.Name: Mega2560,
}

// BoardByName looks up a known board layout. An empty name means the Uno.
func BoardByName(name string) (Board, error) {
	if name == "" {
		return Uno, nil
	}

	b, ok := boards[strings.ToLower(name)]
	if !ok {
		return Board{}, fmt.Errorf("unknown board %q", name)
	}

	return b, nil
}

// BoardNames lists the known board layouts.
func BoardNames() []string {
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PinCount is the number of addressable pins.
func (b Board) PinCount() int {
	return b.DigitalPins + b.AnalogPins
}

// Valid reports whether pin exists on the board.
func (b Board) Valid(pin int) bool {
	return pin >= 0 && pin < b.PinCount()
}

// Reserved reports whether pin is dedicated to the host link.
func (b Board) Reserved(pin int) bool {
	return b.rsv[pin]
}

// AnalogOffset is the pin number of A0.
func (b Board) AnalogOffset() int {
	return b.DigitalPins
}

func (b Board) Kind(pin int) Kind {
	switch {
	case pin >= b.DigitalPins:
		return AnalogCapable
	case b.pwm[pin]:
		return PWMCapable
	default:
		return Digital
	}
}

// Supports reports whether mode is legal for pin. Unset is never a legal
// target: it only describes pins nobody configured.
func (b Board) Supports(pin int, mode gpio.Mode) bool {
	if !b.Valid(pin) {
		return false
	}

	switch mode {
	case gpio.Input, gpio.Output:
		return true
	case gpio.PWM:
		return b.Kind(pin) == PWMCapable
	case gpio.Analog:
		return b.Kind(pin) == AnalogCapable
	case gpio.I2C:
		return b.i2c[pin]
	}

	return false
}

// PinName renders analog pins as A<n> and every other pin as its number.
func (b Board) PinName(pin int) string {
	if pin >= b.DigitalPins {
		return "A" + strconv.Itoa(pin-b.DigitalPins)
	}
	return strconv.Itoa(pin)
}

// ParsePin accepts a pin number or an analog name such as "A0".
func (b Board) ParsePin(s string) (int, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "A") || strings.HasPrefix(s, "a") {
		n, err := strconv.Atoi(s[1:])
		if err != nil || n < 0 || n >= b.AnalogPins {
			return 0, fmt.Errorf("%q is not an analog pin of the %s", s, b.Name)
		}
		return b.DigitalPins + n, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a pin number: %w", s, err)
	}

	return n, nil
}
