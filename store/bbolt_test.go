package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turkycat/remote-wiring-experience/firmata"
	"github.com/turkycat/remote-wiring-experience/hardware"
)

func openTemp(t *testing.T) (Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "panel.db")
	s, err := OpenBBolt(path, 0600, nil)
	require.NoError(t, err)

	return s, path
}

func TestHardwareConfigMissing(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	_, err := s.HardwareConfig()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHardwareConfigPersists(t *testing.T) {
	s, path := openTemp(t)

	want := hardware.Config{
		Board: "mega2560",
		Firmata: &firmata.SerialConfig{
			Port:      "/dev/ttyACM0",
			Baud:      firmata.DefaultBaud,
			BootDelay: 2 * time.Second,
		},
	}
	require.NoError(t, s.PutHardwareConfig(want))
	require.NoError(t, s.Close())

	s, err := OpenBBolt(path, 0600, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.HardwareConfig()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPutHardwareConfigValidates(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	err := s.PutHardwareConfig(hardware.Config{Board: "uno"})
	assert.ErrorIs(t, err, hardware.ErrNoTransport)

	_, err = s.HardwareConfig()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLabels(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	labels, err := s.Labels()
	require.NoError(t, err)
	assert.Empty(t, labels)

	require.NoError(t, s.PutLabel(13, "onboard led"))
	require.NoError(t, s.PutLabel(14, "pot"))
	require.NoError(t, s.PutLabel(14, "knob"))
	require.NoError(t, s.PutLabel(2, "button"))
	require.NoError(t, s.PutLabel(2, ""))
	// removing a label that was never set is fine
	require.NoError(t, s.PutLabel(7, ""))

	labels, err = s.Labels()
	require.NoError(t, err)
	assert.Equal(t, map[int]string{13: "onboard led", 14: "knob"}, labels)
}
