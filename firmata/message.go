package firmata

import (
	"fmt"
	"io"

	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// Command bytes. The first four carry a port or channel number in their low
// nibble.
const (
	digitalMessageType  uint8 = 0x90
	analogMessageType   uint8 = 0xE0
	reportAnalogType    uint8 = 0xC0
	reportDigitalType   uint8 = 0xD0
	startSysexType      uint8 = 0xF0
	setPinModeType      uint8 = 0xF4
	setDigitalValueType uint8 = 0xF5
	endSysex            uint8 = 0xF7
	protocolVersionType uint8 = 0xF9
)

// Sysex commands.
const (
	analogMappingQuery    uint8 = 0x69
	analogMappingResponse uint8 = 0x6A
	pinStateQuery         uint8 = 0x6D
	pinStateResponse      uint8 = 0x6E
	extendedAnalog        uint8 = 0x6F
	stringData            uint8 = 0x71
	reportFirmware        uint8 = 0x79
)

// Pin modes on the wire.
const (
	inputMode  uint8 = 0x00
	outputMode uint8 = 0x01
	analogMode uint8 = 0x02
	pwmMode    uint8 = 0x03
	servoMode  uint8 = 0x04
	i2cMode    uint8 = 0x06
	pullupMode uint8 = 0x0B
)

// noAnalogChannel marks a pin without an analog channel in a mapping response.
const noAnalogChannel uint8 = 0x7F

func wireMode(mode gpio.Mode) (uint8, bool) {
	switch mode {
	case gpio.Input:
		return inputMode, true
	case gpio.Output:
		return outputMode, true
	case gpio.Analog:
		return analogMode, true
	case gpio.PWM:
		return pwmMode, true
	case gpio.I2C:
		return i2cMode, true
	}

	return 0, false
}

// modeFromWire maps a reported mode onto ours. Modes we don't model (servo,
// stepper, ...) are Unset rather than guessed.
func modeFromWire(m uint8) gpio.Mode {
	switch m {
	case inputMode, pullupMode:
		return gpio.Input
	case outputMode:
		return gpio.Output
	case analogMode:
		return gpio.Analog
	case pwmMode:
		return gpio.PWM
	case i2cMode:
		return gpio.I2C
	}

	return gpio.Unset
}

// fmMessageType is the command byte that starts every message.
type fmMessageType struct {
	Type    uint8
	Channel uint8
}

func (m *fmMessageType) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 1)
	total := 0

	// skip stray data bytes until we're aligned on a command
	for {
		n, err := io.ReadFull(rd, buf)
		total += n
		if err != nil {
			return total, fmt.Errorf("couldn't read message type: %w", err)
		}

		if buf[0]&0x80 != 0 {
			break
		}
	}

	if buf[0] < startSysexType {
		m.Type = buf[0] & 0xF0
		m.Channel = buf[0] & 0x0F
	} else {
		m.Type = buf[0]
		m.Channel = 0
	}

	return total, nil
}

func (m *fmMessageType) Encode(w io.Writer) (int, error) {
	b := m.Type
	if m.Type < startSysexType {
		b |= m.Channel & 0x0F
	}

	n, err := w.Write([]byte{b})
	if err != nil {
		return n, fmt.Errorf("couldn't write message type: %w", err)
	}

	return n, nil
}

// fmPortValue is the payload of a digital message: eight pin levels of one port.
type fmPortValue struct {
	Value uint8
}

func (p *fmPortValue) Decode(rd io.Reader) (int, error) {
	var v fmUint14
	n, err := v.Decode(rd)
	if err != nil {
		return n, fmt.Errorf("unable to read port value: %w", err)
	}

	p.Value = uint8(v.V)

	return n, nil
}

func (p *fmPortValue) Encode(w io.Writer) (int, error) {
	v := fmUint14{V: uint16(p.Value)}
	n, err := v.Encode(w)
	if err != nil {
		return n, fmt.Errorf("unable to write port value: %w", err)
	}

	return n, nil
}

// fmAnalogValue is the payload of an analog message.
type fmAnalogValue struct {
	Value uint16
}

func (a *fmAnalogValue) Decode(rd io.Reader) (int, error) {
	var v fmUint14
	n, err := v.Decode(rd)
	if err != nil {
		return n, fmt.Errorf("unable to read analog value: %w", err)
	}

	a.Value = v.V

	return n, nil
}

func (a *fmAnalogValue) Encode(w io.Writer) (int, error) {
	v := fmUint14{V: a.Value}
	n, err := v.Encode(w)
	if err != nil {
		return n, fmt.Errorf("unable to write analog value: %w", err)
	}

	return n, nil
}

// fmToggle is the payload of report analog and report digital messages.
type fmToggle struct {
	On bool
}

func (t *fmToggle) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 1)
	n, err := io.ReadFull(rd, buf)
	if err != nil {
		return n, fmt.Errorf("unable to read report toggle: %w", err)
	}

	t.On = buf[0]&0x01 == 0x01

	return n, nil
}

func (t *fmToggle) Encode(w io.Writer) (int, error) {
	var v byte
	if t.On {
		v = 0x01
	}

	return w.Write([]byte{v})
}

// fmPair is the payload shared by set pin mode, set digital value and the
// protocol version: two data bytes.
type fmPair struct {
	A uint8
	B uint8
}

func (p *fmPair) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 2)
	n, err := io.ReadFull(rd, buf)
	if err != nil {
		return n, fmt.Errorf("unable to read message payload: %w", err)
	}

	p.A = buf[0] & dataMask
	p.B = buf[1] & dataMask

	return n, nil
}

func (p *fmPair) Encode(w io.Writer) (int, error) {
	n, err := w.Write([]byte{p.A & dataMask, p.B & dataMask})
	if err != nil {
		return n, fmt.Errorf("unable to write message payload: %w", err)
	}

	return n, nil
}

// fmSysex is the body of a sysex message, between the start byte (already
// consumed as the message type) and the end byte.
type fmSysex struct {
	Command uint8
	Data    []byte
}

// maxSysexLength bounds how much we buffer before giving up on a sysex
// message that never ends.
const maxSysexLength = 4096

func (s *fmSysex) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 1)
	total := 0

	n, err := io.ReadFull(rd, buf)
	total += n
	if err != nil {
		return total, fmt.Errorf("unable to read sysex command: %w", err)
	}

	if buf[0] == endSysex {
		s.Command = 0
		s.Data = nil
		return total, nil
	}
	s.Command = buf[0]
	s.Data = s.Data[:0]

	for {
		n, err := io.ReadFull(rd, buf)
		total += n
		if err != nil {
			return total, fmt.Errorf("unable to read sysex data: %w", err)
		}

		if buf[0] == endSysex {
			return total, nil
		}

		if len(s.Data) >= maxSysexLength {
			return total, fmt.Errorf("sysex message %x exceeds %d bytes", s.Command, maxSysexLength)
		}

		s.Data = append(s.Data, buf[0]&dataMask)
	}
}

func (s *fmSysex) Encode(w io.Writer) (int, error) {
	buf := make([]byte, 0, len(s.Data)+2)
	buf = append(buf, s.Command)
	for _, b := range s.Data {
		buf = append(buf, b&dataMask)
	}
	buf = append(buf, endSysex)

	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("unable to write sysex %x: %w", s.Command, err)
	}

	return n, nil
}

// firmwareReport is the decoded data of a report firmware sysex.
type firmwareReport struct {
	Major uint8
	Minor uint8
	Name  string
}

func decodeFirmwareReport(data []byte) (firmwareReport, error) {
	if len(data) < 2 {
		return firmwareReport{}, fmt.Errorf("firmware report is %d bytes, need at least 2", len(data))
	}

	return firmwareReport{
		Major: data[0],
		Minor: data[1],
		Name:  decodeString(data[2:]),
	}, nil
}

func (f firmwareReport) data() []byte {
	return append([]byte{f.Major, f.Minor}, fmString{V: f.Name}.bytes()...)
}

// pinState is the decoded data of a pin state response.
type pinState struct {
	Pin   uint8
	Mode  uint8
	State uint32
}

func decodePinState(data []byte) (pinState, error) {
	if len(data) < 2 {
		return pinState{}, fmt.Errorf("pin state response is %d bytes, need at least 2", len(data))
	}

	return pinState{
		Pin:   data[0],
		Mode:  data[1],
		State: decodeVarUint(data[2:]).V,
	}, nil
}

func (p pinState) data() []byte {
	return append([]byte{p.Pin, p.Mode}, fmVarUint{V: p.State}.bytes()...)
}

// decodeAnalogMapping returns the pin number of every analog channel.
func decodeAnalogMapping(data []byte) map[uint8]int {
	mapping := make(map[uint8]int)
	for pin, channel := range data {
		if channel == noAnalogChannel {
			continue
		}
		mapping[channel] = pin
	}

	return mapping
}

func writeMessage(w io.Writer, messageType, channel uint8, payload interface {
	Encode(w io.Writer) (int, error)
}) error {
	if _, err := (&fmMessageType{Type: messageType, Channel: channel}).Encode(w); err != nil {
		return fmt.Errorf("couldn't encode message type %x: %w", messageType, err)
	}

	if payload == nil {
		return nil
	}

	if _, err := payload.Encode(w); err != nil {
		return fmt.Errorf("couldn't encode message %x: %w", messageType, err)
	}

	return nil
}

func writeSysex(w io.Writer, command uint8, data ...byte) error {
	return writeMessage(w, startSysexType, 0, &fmSysex{Command: command, Data: data})
}
