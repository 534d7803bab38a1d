// Package flags registers the command line flags that pick a board and the
// link to it, shared by the one-shot commands.
package flags

import (
	"flag"
	"fmt"
	"time"

	"github.com/turkycat/remote-wiring-experience/firmata"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// Hardware holds the parsed transport flags.
type Hardware struct {
	Board     string
	Port      string
	Baud      int
	BootDelay time.Duration
	Pigpio    string
	Sim       bool
}

// Register adds the transport flags to fs.
func Register(fs *flag.FlagSet) *Hardware {
	h := &Hardware{}

	fs.StringVar(&h.Board, "board", hardware.Uno.Name, fmt.Sprintf("Board layout, one of %v.", hardware.BoardNames()))
	fs.StringVar(&h.Port, "port", "", "Serial port of a Firmata board. Empty picks the first USB serial port.")
	fs.IntVar(&h.Baud, "baud", firmata.DefaultBaud, "Baud rate of the Firmata board.")
	fs.DurationVar(&h.BootDelay, "boot-delay", 2*time.Second, "Time the board needs to boot after the port opens.")
	fs.StringVar(&h.Pigpio, "pigpio", "", "Address of a pigpio daemon to use instead of Firmata.")
	fs.BoolVar(&h.Sim, "sim", false, "Use an in-memory board.")

	return h
}

// Config turns the flags into a hardware config. Firmata is the default link.
func (h *Hardware) Config() (hardware.Config, error) {
	config := hardware.Config{Board: h.Board}

	switch {
	case h.Sim && h.Pigpio != "":
		return config, fmt.Errorf("-sim and -pigpio are mutually exclusive")
	case h.Sim:
		config.Sim = &hardware.SimConfig{}
	case h.Pigpio != "":
		config.Pigpio = &hardware.PigpioConfig{Addr: h.Pigpio, PollInterval: gpio.DefaultPigpioPollInterval}
	default:
		config.Firmata = &firmata.SerialConfig{Port: h.Port, Baud: h.Baud, BootDelay: h.BootDelay}
	}

	return config, config.Validate()
}
