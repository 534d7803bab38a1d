package hardware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/turkycat/remote-wiring-experience/firmata"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// Config selects a board layout and the link used to reach it. Exactly one
// of the transport sections must be set.
//
// Most boards are reached through Firmata over USB serial. Pigpio drives a
// Raspberry Pi's header through the pigpio daemon, which has no analog inputs,
// and Sim is an in-memory board for demos and tests.
type Config struct {
	Board string `json:"board" yaml:"board"`

	Firmata *firmata.SerialConfig `json:"firmata,omitempty" yaml:"firmata,omitempty"`
	Pigpio  *PigpioConfig         `json:"pigpio,omitempty" yaml:"pigpio,omitempty"`
	Sim     *SimConfig            `json:"sim,omitempty" yaml:"sim,omitempty"`
}

type PigpioConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval"`
}

type SimConfig struct {
	Buffer int `json:"buffer" yaml:"buffer"`
}

// ErrNoTransport is returned for configs without any transport section.
var ErrNoTransport = errors.New("hardware config has no transport")

// Validate checks that the board is known and one transport is configured.
func (c Config) Validate() error {
	if _, err := BoardByName(c.Board); err != nil {
		return err
	}

	count := 0
	if c.Firmata != nil {
		count++
	}
	if c.Pigpio != nil {
		count++
	}
	if c.Sim != nil {
		count++
	}

	switch count {
	case 0:
		return ErrNoTransport
	case 1:
		return nil
	default:
		return fmt.Errorf("hardware config has %d transports, want exactly one", count)
	}
}

// New connects to the device described by config.
func New(ctx context.Context, config Config, logger *logrus.Logger) (gpio.Device, Board, error) {
	if err := config.Validate(); err != nil {
		return nil, Board{}, fmt.Errorf("invalid hardware config: %w", err)
	}

	board, _ := BoardByName(config.Board)

	switch {
	case config.Firmata != nil:
		client, err := firmata.OpenSerial(ctx, *config.Firmata, firmata.ClientConfig{AnalogOffset: board.AnalogOffset()}, logger)
		if err != nil {
			return nil, Board{}, fmt.Errorf("unable to open firmata board: %w", err)
		}
		return client, board, nil
	case config.Pigpio != nil:
		p, err := gpio.DialPigpio(config.Pigpio.Addr, config.Pigpio.PollInterval, logger)
		if err != nil {
			return nil, Board{}, fmt.Errorf("unable to dial pigpio to setup gpio: %w", err)
		}
		return p, board, nil
	default:
		buffer := config.Sim.Buffer
		if buffer <= 0 {
			buffer = 64
		}
		return gpio.NewSim(buffer), board, nil
	}
}
