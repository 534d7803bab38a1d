package gateway

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turkycat/remote-wiring-experience/firmata"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// openFirmataUno connects a gateway to a Firmata client whose board side is
// returned. The board answers the handshake and discards every later request.
func openFirmataUno(t *testing.T) (*Gateway, net.Conn) {
	t.Helper()

	host, device := net.Pipe()
	t.Cleanup(func() { device.Close() })

	go func() {
		// version, report firmware and analog mapping queries
		request := make([]byte, 7)
		if _, err := io.ReadFull(device, request); err != nil {
			return
		}

		var reply bytes.Buffer
		reply.Write([]byte{0xF9, 0x02, 0x05})
		reply.Write([]byte{0xF0, 0x79, 0x02, 0x05, 0xF7})
		reply.Write([]byte{0xF0, 0x6A})
		reply.Write(bytes.Repeat([]byte{0x7F}, 14))
		reply.Write([]byte{0, 1, 2, 3, 4, 5, 0xF7})
		if _, err := device.Write(reply.Bytes()); err != nil {
			return
		}

		_, _ = io.Copy(io.Discard, device)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := firmata.Open(ctx, host, firmata.ClientConfig{AnalogOffset: 14}, quietLogger())
	require.NoError(t, err)

	g := Open(client, hardware.Uno, quietLogger())
	t.Cleanup(func() { g.Close() })

	return g, device
}

func TestInputLevelSurvivesModeRoundTrip(t *testing.T) {
	g, device := openFirmataUno(t)

	readsHigh := func() bool {
		level, err := g.DigitalRead(2)
		return err == nil && level == gpio.High
	}

	require.NoError(t, g.SetMode(2, gpio.Input))
	_, err := device.Write([]byte{0x90, 0x04, 0x00})
	require.NoError(t, err)
	require.Eventually(t, readsHigh, time.Second, 5*time.Millisecond)

	require.NoError(t, g.SetMode(2, gpio.Output))
	require.NoError(t, g.SetMode(2, gpio.Input))
	level, err := g.DigitalRead(2)
	require.NoError(t, err)
	assert.Equal(t, gpio.Low, level)

	// the board reports the same port value it did before
	_, err = device.Write([]byte{0x90, 0x04, 0x00})
	require.NoError(t, err)
	assert.Eventually(t, readsHigh, time.Second, 5*time.Millisecond)
}
