// Package config loads the settings of the pin panel process from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/turkycat/remote-wiring-experience/firmata"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/server"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. The hardware section only seeds the
// store: once a hardware config was saved over http, that one wins.
type Config struct {
	Addr       string `yaml:"addr"`
	StorePath  string `yaml:"store_path"`
	JournalDir string `yaml:"journal_dir"` // empty keeps history in memory
	LogLevel   string `yaml:"log_level"`
	// Advertise is the mDNS instance name of the panel, empty to stay quiet.
	Advertise string                 `yaml:"advertise"`
	Reconnect server.ReconnectConfig `yaml:"reconnect"`
	Hardware  hardware.Config        `yaml:"hardware"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Addr:      ":8080",
		StorePath: "pinpanel.db",
		LogLevel:  "info",
		Hardware:  hardware.Config{Board: hardware.Uno.Name},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing file
// leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps PINPANEL_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PINPANEL_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("PINPANEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PINPANEL_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("PINPANEL_ADVERTISE"); v != "" {
		cfg.Advertise = v
	}
	if v := os.Getenv("PINPANEL_BOARD"); v != "" {
		cfg.Hardware.Board = v
	}
	// a serial port picks firmata as the transport
	if v := os.Getenv("PINPANEL_SERIAL_PORT"); v != "" {
		cfg.Hardware.Firmata = &firmata.SerialConfig{Port: v, Baud: firmata.DefaultBaud}
		cfg.Hardware.Pigpio = nil
		cfg.Hardware.Sim = nil
	}
}

// Validate checks cfg, reporting every problem at once.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Addr == "" {
		problems = append(problems, "addr is required")
	}
	if cfg.StorePath == "" {
		problems = append(problems, "store_path is required")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.Reconnect.Cooldown < 0 {
		problems = append(problems, "reconnect.cooldown must not be negative")
	}
	if _, err := hardware.BoardByName(cfg.Hardware.Board); err != nil {
		problems = append(problems, err.Error())
	}
	// no transport is fine: the panel starts disconnected
	if err := cfg.Hardware.Validate(); err != nil && !errors.Is(err, hardware.ErrNoTransport) {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	return nil
}

// Logger returns a logrus logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
