package gpio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pigpio is used for controlling GPIO over the pigpio socket interface
type Pigpio struct {
	Logger *logrus.Logger

	conn   net.Conn
	connMu sync.Mutex

	pollInterval time.Duration

	// inputs holds the last level read for every pin in INPUT mode
	inputs   map[int]Level
	inputsMu sync.Mutex

	updates chan Update
	done    chan struct{}
	once    sync.Once
}

// compile-time check for whether Pigpio satisfies the Device interface
var _ Device = &Pigpio{}

// DefaultPigpioPollInterval is how often input pins are sampled when no interval is given.
const DefaultPigpioPollInterval = 50 * time.Millisecond

// DialPigpio dials into the pigpio socket interface (normally running on port 8888)
func DialPigpio(addr string, pollInterval time.Duration, logger *logrus.Logger) (*Pigpio, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("couldn't dial into pigpio socket: %w", err)
	}

	return NewPigpio(conn, pollInterval, logger), nil
}

// NewPigpio wraps an established pigpio socket connection and starts sampling
// input pins.
func NewPigpio(conn net.Conn, pollInterval time.Duration, logger *logrus.Logger) *Pigpio {
	if pollInterval <= 0 {
		pollInterval = DefaultPigpioPollInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	p := &Pigpio{
		Logger:       logger,
		conn:         conn,
		pollInterval: pollInterval,
		inputs:       make(map[int]Level),
		updates:      make(chan Update, 64),
		done:         make(chan struct{}),
	}

	go p.poll()

	return p
}

// Close closes the underlying pigpio socket interface connection
func (p *Pigpio) Close() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.conn == nil {
		return fmt.Errorf("connection is already closed")
	}

	p.once.Do(func() { close(p.done) })

	err := p.conn.Close()
	p.conn = nil
	return err
}

// Updates delivers level changes of pins in INPUT mode.
func (p *Pigpio) Updates() <-chan Update {
	return p.updates
}

// SetPinMode switches a pin between input and output. pigpio has no analog
// inputs, so only digital modes (and PWM, which is an output) are supported.
func (p *Pigpio) SetPinMode(pin int, mode Mode) error {
	var rawMode uint32
	switch mode {
	case Input:
		rawMode = 0
	case Output, PWM:
		rawMode = 1
	default:
		return ErrUnsupported{Err: fmt.Errorf("pigpio can't put pin %d in %s mode", pin, mode)}
	}

	if err := p.command(modes, uint32(pin), rawMode); err != nil {
		return fmt.Errorf("unable to set mode of pin %d: %w", pin, err)
	}

	p.inputsMu.Lock()
	if mode == Input {
		p.inputs[pin] = Low
	} else {
		delete(p.inputs, pin)
	}
	p.inputsMu.Unlock()

	return nil
}

// DigitalWrite sets a GPIO pin to LOW or HIGH.
func (p *Pigpio) DigitalWrite(pin int, level Level) error {
	var rawLevel uint32
	if level {
		rawLevel = 1
	}

	return p.command(write, uint32(pin), rawLevel)
}

// AnalogWrite sets the software PWM duty cycle (0 - 255) of a pin.
func (p *Pigpio) AnalogWrite(pin int, duty int) error {
	return p.command(pwm, uint32(pin), uint32(ClampDuty(duty)))
}

type cmd struct {
	Cmd uint32
	P1  uint32
	P2  uint32
	P3  uint32
}

const (
	modes uint32 = 0
	read  uint32 = 3
	write uint32 = 4
	pwm   uint32 = 5
)

// command sends a request and waits for its response, returning the result
// field. pigpio reports failures as negative results.
func (p *Pigpio) command(command, p1, p2 uint32) error {
	_, err := p.exchange(command, p1, p2)
	return err
}

func (p *Pigpio) exchange(command, p1, p2 uint32) (int32, error) {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.conn == nil {
		return 0, fmt.Errorf("not connected to pigpio socket interface")
	}

	request := cmd{
		Cmd: command,
		P1:  p1,
		P2:  p2,
	}

	if err := binary.Write(p.conn, binary.LittleEndian, request); err != nil {
		return 0, fmt.Errorf("unable to write request to socket: %w", err)
	}

	var response cmd
	if err := binary.Read(p.conn, binary.LittleEndian, &response); err != nil {
		return 0, fmt.Errorf("unable to read response from socket: %w", err)
	}

	result := int32(response.P3)
	if result < 0 {
		return result, CommandError{Command: command, Code: result}
	}

	return result, nil
}

// CommandError is a failure pigpio reported for a single request. The socket
// stays usable after it.
type CommandError struct {
	Command uint32
	Code    int32
}

func (err CommandError) Error() string {
	return fmt.Sprintf("pigpio command %d failed with code %d", err.Command, err.Code)
}

// poll samples input pins until Close or until the socket fails.
func (p *Pigpio) poll() {
	defer close(p.updates)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.sampleInputs(); err != nil {
				select {
				case <-p.done:
				default:
					p.Logger.WithError(err).Error("lost pigpio socket, no more input reports")
				}
				return
			}
		}
	}
}

func (p *Pigpio) sampleInputs() error {
	p.inputsMu.Lock()
	pins := make([]int, 0, len(p.inputs))
	for pin := range p.inputs {
		pins = append(pins, pin)
	}
	p.inputsMu.Unlock()

	for _, pin := range pins {
		result, err := p.exchange(read, uint32(pin), 0)
		var commandErr CommandError
		if errors.As(err, &commandErr) {
			p.Logger.WithField("pin", pin).WithError(err).Warn("unable to read input pin")
			continue
		} else if err != nil {
			return err
		}
		level := Level(result == 1)

		p.inputsMu.Lock()
		last, watched := p.inputs[pin]
		if watched {
			p.inputs[pin] = level
		}
		p.inputsMu.Unlock()

		if !watched || last == level {
			continue
		}

		select {
		case p.updates <- Update{Pin: pin, Kind: DigitalUpdate, Level: level}:
		default:
		}
	}

	return nil
}
