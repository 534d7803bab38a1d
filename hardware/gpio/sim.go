package gpio

import (
	"fmt"
	"sync"
)

// Command is a request a Sim received.
type Command struct {
	Op    string
	Pin   int
	Mode  Mode
	Level Level
	Duty  int
}

// Sim is an in-memory device. It accepts every request, records it, and lets
// callers inject the notifications a real board would send.
type Sim struct {
	mu       sync.Mutex
	commands []Command
	closed   bool

	// Fail, when set, is returned by every request.
	Fail error

	updates chan Update
}

var _ Device = &Sim{}

// NewSim creates a simulated device buffering up to buffer notifications.
func NewSim(buffer int) *Sim {
	return &Sim{updates: make(chan Update, buffer)}
}

func (s *Sim) record(c Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("simulated device is closed")
	}
	if s.Fail != nil {
		return s.Fail
	}

	s.commands = append(s.commands, c)
	return nil
}

func (s *Sim) SetPinMode(pin int, mode Mode) error {
	return s.record(Command{Op: "mode", Pin: pin, Mode: mode})
}

func (s *Sim) DigitalWrite(pin int, level Level) error {
	return s.record(Command{Op: "digital", Pin: pin, Level: level})
}

func (s *Sim) AnalogWrite(pin int, duty int) error {
	return s.record(Command{Op: "analog", Pin: pin, Duty: duty})
}

func (s *Sim) Updates() <-chan Update {
	return s.updates
}

// Inject queues a device-originated notification. It reports false when the
// device is closed or its buffer is full, dropping u like a real link would.
func (s *Sim) Inject(u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.updates <- u:
		return true
	default:
		return false
	}
}

// Commands returns a copy of every request received so far.
func (s *Sim) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("simulated device is already closed")
	}

	s.closed = true
	close(s.updates)
	return nil
}
