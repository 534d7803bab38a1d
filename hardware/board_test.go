package hardware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

func TestUnoKinds(t *testing.T) {
	assert.Equal(t, Digital, Uno.Kind(2))
	assert.Equal(t, PWMCapable, Uno.Kind(9))
	assert.Equal(t, AnalogCapable, Uno.Kind(14))
	assert.Equal(t, 20, Uno.PinCount())
}

func TestUnoSupports(t *testing.T) {
	tests := []struct {
		pin  int
		mode gpio.Mode
		want bool
	}{
		{pin: 2, mode: gpio.Output, want: true},
		{pin: 2, mode: gpio.PWM, want: false},
		{pin: 9, mode: gpio.PWM, want: true},
		{pin: 9, mode: gpio.Analog, want: false},
		{pin: 14, mode: gpio.Analog, want: true},
		{pin: 14, mode: gpio.I2C, want: false},
		{pin: 18, mode: gpio.I2C, want: true},
		{pin: 4, mode: gpio.Unset, want: false},
		{pin: 20, mode: gpio.Input, want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Uno.Supports(tt.pin, tt.mode), "pin %d mode %s", tt.pin, tt.mode)
	}
}

func TestParsePin(t *testing.T) {
	pin, err := Uno.ParsePin("A0")
	require.NoError(t, err)
	assert.Equal(t, 14, pin)

	pin, err = Uno.ParsePin("13")
	require.NoError(t, err)
	assert.Equal(t, 13, pin)

	_, err = Uno.ParsePin("A6")
	assert.Error(t, err)

	_, err = Uno.ParsePin("x")
	assert.Error(t, err)

	assert.Equal(t, "A5", Uno.PinName(19))
	assert.Equal(t, "7", Uno.PinName(7))
}

func TestBoardByName(t *testing.T) {
	b, err := BoardByName("")
	require.NoError(t, err)
	assert.Equal(t, "uno", b.Name)

	b, err = BoardByName("Mega2560")
	require.NoError(t, err)
	assert.True(t, b.Reserved(1))
	assert.Equal(t, PWMCapable, b.Kind(45))

	_, err = BoardByName("leonardo")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, Config{}.Validate(), ErrNoTransport)
	assert.Error(t, Config{Sim: &SimConfig{}, Pigpio: &PigpioConfig{}}.Validate())
	assert.Error(t, Config{Board: "nope", Sim: &SimConfig{}}.Validate())
	assert.NoError(t, Config{Sim: &SimConfig{}}.Validate())
}

func TestNewSim(t *testing.T) {
	device, board, err := New(context.Background(), Config{Board: "uno", Sim: &SimConfig{}}, nil)
	require.NoError(t, err)
	defer device.Close()

	assert.IsType(t, &gpio.Sim{}, device)
	assert.Equal(t, "uno", board.Name)
}
