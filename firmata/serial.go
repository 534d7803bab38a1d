package firmata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaud is the rate StandardFirmata listens at.
const DefaultBaud = 57600

// SerialConfig describes how to reach a board on a serial port.
type SerialConfig struct {
	// Port is the serial device, e.g. /dev/ttyACM0 or COM3. When empty the
	// first USB serial port is used.
	Port string `json:"port" yaml:"port"`
	Baud int    `json:"baud" yaml:"baud"`

	// BootDelay is how long to wait after opening the port, since most boards
	// reset when the port opens and ignore input while the bootloader runs.
	BootDelay time.Duration `json:"bootDelay" yaml:"bootDelay"`

	// HandshakeTimeout is how long the board gets to answer once BootDelay
	// passed. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration `json:"handshakeTimeout,omitempty" yaml:"handshakeTimeout,omitempty"`
}

// ErrNoPort is returned by FindPort when no USB serial port is attached.
var ErrNoPort = errors.New("no USB serial port found")

// arduinoVIDs are USB vendor ids of boards and the common USB-serial bridges
// they ship with.
var arduinoVIDs = map[string]bool{
	"2341": true, // Arduino
	"2A03": true, // Arduino.org
	"1A86": true, // CH340
	"0403": true, // FTDI
	"10C4": true, // CP210x
}

// FindPort returns the name of the USB serial port most likely to have a board
// attached: the first one with a known vendor id, otherwise the first USB port.
func FindPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("unable to list serial ports: %w", err)
	}

	var fallback string
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}

		if arduinoVIDs[strings.ToUpper(port.VID)] {
			return port.Name, nil
		}

		if fallback == "" {
			fallback = port.Name
		}
	}

	if fallback == "" {
		return "", ErrNoPort
	}

	return fallback, nil
}

// OpenSerial opens a board's serial port, waits for it to boot and performs
// the Firmata handshake.
func OpenSerial(ctx context.Context, sc SerialConfig, config ClientConfig, logger *logrus.Logger) (*Client, error) {
	name := sc.Port
	if name == "" {
		var err error
		name, err = FindPort()
		if err != nil {
			return nil, err
		}
	}

	baud := sc.Baud
	if baud == 0 {
		baud = DefaultBaud
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("unable to open serial port %q: %w", name, err)
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{"port": name, "baud": baud}).Info("opened serial port")
	}

	if sc.BootDelay > 0 {
		select {
		case <-time.After(sc.BootDelay):
		case <-ctx.Done():
			port.Close()
			return nil, ctx.Err()
		}
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("unable to flush serial port %q: %w", name, err)
	}

	if sc.HandshakeTimeout > 0 {
		config.HandshakeTimeout = sc.HandshakeTimeout
	}

	client, err := Open(ctx, port, config, logger)
	if err != nil {
		return nil, fmt.Errorf("no firmata board on %q: %w", name, err)
	}

	if logger != nil {
		firmware, major, minor := client.Firmware()
		logger.WithFields(logrus.Fields{
			"port":     name,
			"firmware": fmt.Sprintf("%s %d.%d", firmware, major, minor),
		}).Info("board ready")
	}

	return client, nil
}
