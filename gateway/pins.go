package gateway

import (
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// Mode returns the last known mode of pin.
func (g *Gateway) Mode(pin int) (gpio.Mode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, err := g.lookup(pin)
	if err != nil {
		return gpio.Unset, err
	}

	return p.Mode, nil
}

// SetMode switches pin to mode. The level drops to LOW and any duty or sample
// of the previous mode is discarded.
func (g *Gateway) SetMode(pin int, mode gpio.Mode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.mutable(pin)
	if err != nil {
		return err
	}

	if !g.board.Supports(pin, mode) {
		return UnsupportedModeError{Pin: pin, Kind: p.Kind, Mode: mode}
	}

	p.Mode = mode
	p.Level = gpio.Low
	p.Sample = 0
	p.Duty = 0

	g.deviceFailed(g.device.SetPinMode(pin, mode), "setMode", pin)
	g.publish(*p, ModeChanged, OriginRequest)

	return nil
}

// DigitalRead returns the level of a pin in INPUT or OUTPUT mode.
func (g *Gateway) DigitalRead(pin int) (gpio.Level, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, err := g.lookup(pin)
	if err != nil {
		return gpio.Low, err
	}

	if p.Mode != gpio.Input && p.Mode != gpio.Output {
		return gpio.Low, InvalidModeError{Pin: pin, Op: "digitalRead", Mode: p.Mode}
	}

	return p.Level, nil
}

// DigitalWrite drives a pin in OUTPUT mode.
func (g *Gateway) DigitalWrite(pin int, level gpio.Level) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.mutable(pin)
	if err != nil {
		return err
	}

	if p.Mode != gpio.Output {
		return InvalidModeError{Pin: pin, Op: "digitalWrite", Mode: p.Mode}
	}

	changed := p.Level != level
	p.Level = level

	g.deviceFailed(g.device.DigitalWrite(pin, level), "digitalWrite", pin)
	if changed {
		g.publish(*p, ValueChanged, OriginRequest)
	}

	return nil
}

// AnalogRead returns the last sample of a pin in ANALOG mode.
func (g *Gateway) AnalogRead(pin int) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, err := g.lookup(pin)
	if err != nil {
		return 0, err
	}

	if p.Mode != gpio.Analog {
		return 0, InvalidModeError{Pin: pin, Op: "analogRead", Mode: p.Mode}
	}

	return p.Sample, nil
}

// AnalogWrite sets the duty cycle of a pin in PWM mode. Duty outside 0 - 255
// is clamped, never passed on to the device.
func (g *Gateway) AnalogWrite(pin int, duty int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.mutable(pin)
	if err != nil {
		return err
	}

	if p.Mode != gpio.PWM {
		return InvalidModeError{Pin: pin, Op: "analogWrite", Mode: p.Mode}
	}

	duty = gpio.ClampDuty(duty)
	changed := p.Duty != duty
	p.Duty = duty

	g.deviceFailed(g.device.AnalogWrite(pin, duty), "analogWrite", pin)
	if changed {
		g.publish(*p, ValueChanged, OriginRequest)
	}

	return nil
}

// Duty returns the duty cycle of a pin in PWM mode.
func (g *Gateway) Duty(pin int) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, err := g.lookup(pin)
	if err != nil {
		return 0, err
	}

	if p.Mode != gpio.PWM {
		return 0, InvalidModeError{Pin: pin, Op: "read duty of", Mode: p.Mode}
	}

	return p.Duty, nil
}
