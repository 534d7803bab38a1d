package firmata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

type ClientConfig struct {
	// AnalogOffset is the pin number of analog channel 0, used until the board
	// answers the analog mapping query. An Uno numbers A0 as pin 14.
	AnalogOffset int

	// UpdateBuffer is how many notifications may wait for the consumer before
	// new ones are dropped.
	UpdateBuffer int

	// HandshakeTimeout bounds the handshake even when ctx never ends. Zero
	// means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

// DefaultHandshakeTimeout is how long a board gets to answer the handshake.
// A port without a Firmata sketch behind it never answers.
const DefaultHandshakeTimeout = 5 * time.Second

// Client speaks Firmata to a board over any byte stream, normally a serial port.
type Client struct {
	Logger *logrus.Logger
	Config ClientConfig

	conn    io.ReadWriteCloser
	writeMu sync.Mutex

	// stateMu guards everything below
	stateMu sync.Mutex
	modes   map[int]gpio.Mode
	outputs [16]uint8
	inputs  [16]uint8
	// announced holds the input pins whose level was sent as an update since
	// they last changed mode.
	announced  map[int]bool
	analogPins map[uint8]int
	version    [2]uint8
	firmware   firmwareReport

	updates chan gpio.Update
	done    chan struct{}
	once    sync.Once
}

var _ gpio.Device = &Client{}

// ErrClosed is returned by requests made after Close.
var ErrClosed = errors.New("firmata client is closed")

// Open performs the handshake with the board on conn and starts listening for
// notifications. conn is closed if the handshake fails, or if ctx ends or
// config.HandshakeTimeout passes first.
func Open(ctx context.Context, conn io.ReadWriteCloser, config ClientConfig, logger *logrus.Logger) (*Client, error) {
	if config.UpdateBuffer <= 0 {
		config.UpdateBuffer = 256
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, config.HandshakeTimeout)
	defer cancel()

	c := &Client{
		Logger:     logger,
		Config:     config,
		conn:       conn,
		modes:      make(map[int]gpio.Mode),
		announced:  make(map[int]bool),
		analogPins: make(map[uint8]int),
		updates:    make(chan gpio.Update, config.UpdateBuffer),
		done:       make(chan struct{}),
	}

	handshakeErrs := make(chan error, 1)
	go func() {
		handshakeErrs <- c.handshake()
	}()

	select {
	case err := <-handshakeErrs:
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("couldn't complete handshake: %w", err)
		}
	case <-ctx.Done():
		conn.Close()
		<-handshakeErrs
		return nil, fmt.Errorf("handshake interrupted: %w", ctx.Err())
	}

	go c.listen()

	return c, nil
}

// Firmware returns the name and version of the sketch running on the board.
func (c *Client) Firmware() (name string, major, minor uint8) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.firmware.Name, c.firmware.Major, c.firmware.Minor
}

func (c *Client) Updates() <-chan gpio.Update {
	return c.updates
}

func (c *Client) Close() error {
	err := ErrClosed
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})

	return err
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// send writes a whole message in a single write so concurrent requests
// never interleave on the wire.
func (c *Client) send(encode func(w io.Writer) error) error {
	if c.closed() {
		return ErrClosed
	}

	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("couldn't write to board: %w", err)
	}

	return nil
}

func (c *Client) SetPinMode(pin int, mode gpio.Mode) error {
	raw, ok := wireMode(mode)
	if !ok || pin < 0 || pin > 127 {
		return gpio.ErrUnsupported{Err: fmt.Errorf("firmata can't put pin %d in %s mode", pin, mode)}
	}

	c.stateMu.Lock()
	previous := c.modes[pin]
	c.modes[pin] = mode
	// the gateway forgot the level, so the next report must repeat it
	delete(c.announced, pin)
	port := pin / 8
	if port < len(c.outputs) {
		// a mode change drops the pin back to LOW
		c.outputs[port] &^= 1 << uint(pin%8)
	}
	channel, hasChannel := c.channelOf(pin)
	c.stateMu.Unlock()

	return c.send(func(w io.Writer) error {
		if err := writeMessage(w, setPinModeType, 0, &fmPair{A: uint8(pin), B: raw}); err != nil {
			return err
		}

		if mode == gpio.Input && port < len(c.outputs) {
			if err := writeMessage(w, reportDigitalType, uint8(port), &fmToggle{On: true}); err != nil {
				return err
			}
		}

		if hasChannel && mode == gpio.Analog {
			if err := writeMessage(w, reportAnalogType, channel, &fmToggle{On: true}); err != nil {
				return err
			}
		} else if hasChannel && previous == gpio.Analog {
			if err := writeMessage(w, reportAnalogType, channel, &fmToggle{On: false}); err != nil {
				return err
			}
		}

		return nil
	})
}

// channelOf returns the analog channel of a pin. Callers hold stateMu.
func (c *Client) channelOf(pin int) (uint8, bool) {
	if len(c.analogPins) > 0 {
		for channel, p := range c.analogPins {
			if p == pin {
				return channel, true
			}
		}
		return 0, false
	}

	channel := pin - c.Config.AnalogOffset
	if c.Config.AnalogOffset <= 0 || channel < 0 || channel > 15 {
		return 0, false
	}

	return uint8(channel), true
}

// pinOf returns the pin number of an analog channel. Callers hold stateMu.
func (c *Client) pinOf(channel uint8) int {
	if pin, ok := c.analogPins[channel]; ok {
		return pin
	}

	return c.Config.AnalogOffset + int(channel)
}

func (c *Client) DigitalWrite(pin int, level gpio.Level) error {
	port := pin / 8
	if pin < 0 || port >= len(c.outputs) {
		return gpio.ErrUnsupported{Err: fmt.Errorf("firmata can't address digital pin %d", pin)}
	}

	c.stateMu.Lock()
	if level {
		c.outputs[port] |= 1 << uint(pin%8)
	} else {
		c.outputs[port] &^= 1 << uint(pin%8)
	}
	value := c.outputs[port]
	c.stateMu.Unlock()

	return c.send(func(w io.Writer) error {
		return writeMessage(w, digitalMessageType, uint8(port), &fmPortValue{Value: value})
	})
}

func (c *Client) AnalogWrite(pin int, duty int) error {
	if pin < 0 || pin > 127 {
		return gpio.ErrUnsupported{Err: fmt.Errorf("firmata can't address pin %d", pin)}
	}
	duty = gpio.ClampDuty(duty)

	return c.send(func(w io.Writer) error {
		if pin < 16 {
			return writeMessage(w, analogMessageType, uint8(pin), &fmAnalogValue{Value: uint16(duty)})
		}

		return writeSysex(w, extendedAnalog, append([]byte{uint8(pin)}, split14(uint16(duty))...)...)
	})
}

// QueryPinState asks the board to report a pin's mode and value. The answer
// is logged when it arrives.
func (c *Client) QueryPinState(pin int) error {
	return c.send(func(w io.Writer) error {
		return writeSysex(w, pinStateQuery, uint8(pin))
	})
}

// handshake asks the board who it is and how its analog channels map to pins,
// then waits for the version, the firmware report and the mapping.
func (c *Client) handshake() error {
	var request bytes.Buffer
	if err := writeMessage(&request, protocolVersionType, 0, nil); err != nil {
		return err
	}
	if err := writeSysex(&request, reportFirmware); err != nil {
		return err
	}
	if err := writeSysex(&request, analogMappingQuery); err != nil {
		return err
	}

	if _, err := c.conn.Write(request.Bytes()); err != nil {
		return fmt.Errorf("couldn't send handshake: %w", err)
	}

	var gotVersion, gotFirmware, gotMapping bool
	for !(gotVersion && gotFirmware && gotMapping) {
		messageType, err := c.handleResponse()
		if err != nil {
			return err
		}

		switch messageType {
		case protocolVersionType:
			gotVersion = true
		case reportFirmware:
			gotFirmware = true
		case analogMappingResponse:
			gotMapping = true
		}
	}

	if c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{
			"firmware": c.firmware.Name,
			"version":  fmt.Sprintf("%d.%d", c.version[0], c.version[1]),
			"analog":   len(c.analogPins),
		}).Info("connected to board")
	}

	return nil
}

func (c *Client) listen() {
	defer close(c.updates)

	failures := 0
	for {
		_, err := c.handleResponse()
		if c.closed() {
			return
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
			if c.Logger != nil {
				c.Logger.Error("board closed connection")
			}

			return
		} else if err != nil {
			if c.Logger != nil {
				c.Logger.Errorf("couldn't handle message from board: %s", err)
			}

			failures++
			if failures >= maxConsecutiveFailures {
				if c.Logger != nil {
					c.Logger.Errorf("giving up after %d bad messages", failures)
				}

				return
			}
			continue
		}

		failures = 0
	}
}

// maxConsecutiveFailures is how many undecodable messages in a row end the
// listen loop; a link that only produces garbage is as good as gone.
const maxConsecutiveFailures = 32

// handleResponse decodes one message from the board and applies it. It
// returns the message type, or the sysex command for sysex messages.
func (c *Client) handleResponse() (uint8, error) {
	var messageType fmMessageType
	if _, err := messageType.Decode(c.conn); err != nil {
		return 0, fmt.Errorf("couldn't decode message type: %w", err)
	}

	switch messageType.Type {
	case digitalMessageType:
		var port fmPortValue
		if _, err := port.Decode(c.conn); err != nil {
			return messageType.Type, fmt.Errorf("couldn't decode digital message: %w", err)
		}

		c.applyPort(int(messageType.Channel), port.Value)
	case analogMessageType:
		var analog fmAnalogValue
		if _, err := analog.Decode(c.conn); err != nil {
			return messageType.Type, fmt.Errorf("couldn't decode analog message: %w", err)
		}

		c.stateMu.Lock()
		pin := c.pinOf(messageType.Channel)
		c.stateMu.Unlock()

		c.publish(gpio.Update{Pin: pin, Kind: gpio.AnalogUpdate, Sample: int(analog.Value)})
	case protocolVersionType:
		var version fmPair
		if _, err := version.Decode(c.conn); err != nil {
			return messageType.Type, fmt.Errorf("couldn't decode protocol version: %w", err)
		}

		c.stateMu.Lock()
		c.version = [2]uint8{version.A, version.B}
		c.stateMu.Unlock()
	case startSysexType:
		var sysex fmSysex
		if _, err := sysex.Decode(c.conn); err != nil {
			return messageType.Type, fmt.Errorf("couldn't decode sysex: %w", err)
		}

		if err := c.handleSysex(sysex); err != nil {
			return sysex.Command, err
		}

		return sysex.Command, nil
	case reportAnalogType, reportDigitalType:
		// boards don't send these, but an echoing link might
		var ignored fmToggle
		if _, err := ignored.Decode(c.conn); err != nil {
			return messageType.Type, fmt.Errorf("couldn't skip message %x: %w", messageType.Type, err)
		}
	case setPinModeType, setDigitalValueType:
		var ignored fmPair
		if _, err := ignored.Decode(c.conn); err != nil {
			return messageType.Type, fmt.Errorf("couldn't skip message %x: %w", messageType.Type, err)
		}
	default:
		return messageType.Type, fmt.Errorf("got unknown message type: %x", messageType.Type)
	}

	return messageType.Type, nil
}

func (c *Client) handleSysex(sysex fmSysex) error {
	switch sysex.Command {
	case reportFirmware:
		firmware, err := decodeFirmwareReport(sysex.Data)
		if err != nil {
			return fmt.Errorf("couldn't decode firmware report: %w", err)
		}

		c.stateMu.Lock()
		c.firmware = firmware
		c.stateMu.Unlock()
	case analogMappingResponse:
		mapping := decodeAnalogMapping(sysex.Data)

		c.stateMu.Lock()
		c.analogPins = mapping
		c.stateMu.Unlock()
	case pinStateResponse:
		state, err := decodePinState(sysex.Data)
		if err != nil {
			return fmt.Errorf("couldn't decode pin state: %w", err)
		}

		if c.Logger != nil {
			c.Logger.WithFields(logrus.Fields{
				"pin":   state.Pin,
				"mode":  modeFromWire(state.Mode),
				"state": state.State,
			}).Debug("pin state reported")
		}
	case stringData:
		if c.Logger != nil {
			c.Logger.WithField("message", decodeString(sysex.Data)).Info("board says")
		}
	default:
		if c.Logger != nil {
			c.Logger.WithField("command", fmt.Sprintf("%#x", sysex.Command)).Debug("ignoring sysex")
		}
	}

	return nil
}

// applyPort turns a port report into one update per input pin whose level
// changed. A pin that just became an input is announced whatever its level.
func (c *Client) applyPort(port int, value uint8) {
	if port >= len(c.inputs) {
		return
	}

	var updates []gpio.Update

	c.stateMu.Lock()
	previous := c.inputs[port]
	c.inputs[port] = value

	for bit := 0; bit < 8; bit++ {
		pin := port*8 + bit
		if c.modes[pin] != gpio.Input {
			continue
		}

		mask := uint8(1) << uint(bit)
		if c.announced[pin] && previous&mask == value&mask {
			continue
		}

		c.announced[pin] = true
		updates = append(updates, gpio.Update{Pin: pin, Kind: gpio.DigitalUpdate, Level: gpio.Level(value&mask != 0)})
	}
	c.stateMu.Unlock()

	for _, u := range updates {
		c.publish(u)
	}
}

// publish hands an update to the consumer. Notifications are display hints, so
// when the consumer falls behind the update is dropped rather than retried.
func (c *Client) publish(u gpio.Update) {
	select {
	case c.updates <- u:
	default:
		if c.Logger != nil {
			c.Logger.WithField("pin", u.Pin).Warn("update buffer full, dropping notification")
		}
	}
}
