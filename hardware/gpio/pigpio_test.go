package gpio

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePigpiod answers requests the way the pigpio daemon does, keeping pin
// levels in memory.
type fakePigpiod struct {
	mu       sync.Mutex
	levels   map[uint32]uint32
	broken   map[uint32]bool
	requests []cmd
}

func (f *fakePigpiod) serve(conn net.Conn) {
	for {
		var request cmd
		if err := binary.Read(conn, binary.LittleEndian, &request); err != nil {
			return
		}

		f.mu.Lock()
		response := request
		response.P3 = 0
		switch request.Cmd {
		case read:
			response.P3 = f.levels[request.P1]
			if f.broken[request.P1] {
				response.P3 = uint32(0xFFFFFFFD) // PI_BAD_GPIO
			}
		case write:
			f.levels[request.P1] = request.P2
		case pwm:
			if request.P2 > 255 {
				response.P3 = uint32(0xFFFFFFF8) // PI_BAD_DUTYCYCLE
			}
		}
		if request.Cmd != read {
			f.requests = append(f.requests, request)
		}
		f.mu.Unlock()

		if err := binary.Write(conn, binary.LittleEndian, response); err != nil {
			return
		}
	}
}

func (f *fakePigpiod) setLevel(pin, level uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[pin] = level
}

func (f *fakePigpiod) breakPin(pin uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken[pin] = true
}

func (f *fakePigpiod) sent() []cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cmd(nil), f.requests...)
}

func newTestPigpio(t *testing.T) (*Pigpio, *fakePigpiod) {
	host, daemon := net.Pipe()
	fake := &fakePigpiod{levels: make(map[uint32]uint32), broken: make(map[uint32]bool)}
	go fake.serve(daemon)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	p := NewPigpio(host, 5*time.Millisecond, logger)
	t.Cleanup(func() {
		p.Close()
		daemon.Close()
	})

	return p, fake
}

func TestPigpioRequests(t *testing.T) {
	p, fake := newTestPigpio(t)

	require.NoError(t, p.SetPinMode(17, Output))
	require.NoError(t, p.DigitalWrite(17, High))
	require.NoError(t, p.AnalogWrite(18, 400))

	assert.Equal(t, []cmd{
		{Cmd: modes, P1: 17, P2: 1},
		{Cmd: write, P1: 17, P2: 1},
		{Cmd: pwm, P1: 18, P2: 255},
	}, fake.sent())
}

func TestPigpioRejectsAnalogMode(t *testing.T) {
	p, _ := newTestPigpio(t)

	err := p.SetPinMode(4, Analog)
	assert.ErrorIs(t, err, ErrUnsupported{})
}

func TestPigpioReportsInputChanges(t *testing.T) {
	p, fake := newTestPigpio(t)

	require.NoError(t, p.SetPinMode(22, Input))
	fake.setLevel(22, 1)

	select {
	case u := <-p.Updates():
		assert.Equal(t, Update{Pin: 22, Kind: DigitalUpdate, Level: High}, u)
	case <-time.After(time.Second):
		t.Fatal("no update for input pin")
	}
}

func TestPigpioSkipsFailedReads(t *testing.T) {
	p, fake := newTestPigpio(t)

	require.NoError(t, p.SetPinMode(5, Input))
	require.NoError(t, p.SetPinMode(22, Input))
	fake.breakPin(5)

	// let a few polls fail on pin 5 before pin 22 changes
	time.Sleep(20 * time.Millisecond)
	fake.setLevel(22, 1)

	select {
	case u, ok := <-p.Updates():
		require.True(t, ok, "polling stopped after a failed read")
		assert.Equal(t, Update{Pin: 22, Kind: DigitalUpdate, Level: High}, u)
	case <-time.After(time.Second):
		t.Fatal("no update for input pin")
	}

	var commandErr CommandError
	err := p.command(read, 5, 0)
	require.ErrorAs(t, err, &commandErr)
	assert.Equal(t, int32(-3), commandErr.Code)
}

func TestPigpioCloseTwice(t *testing.T) {
	p, _ := newTestPigpio(t)

	require.NoError(t, p.Close())
	assert.Error(t, p.Close())
	assert.Error(t, p.DigitalWrite(1, High))
}
