// Package panel keeps the display state of a pin panel: what each pin's row
// shows, kept in sync with the gateway through its change queue.
package panel

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// View is one row of the panel.
type View struct {
	Pin     int           `json:"pin"`
	Name    string        `json:"name"`
	Label   string        `json:"label"`
	Kind    hardware.Kind `json:"kind"`
	Mode    gpio.Mode     `json:"mode"`
	Enabled bool          `json:"enabled"`
	Text    string        `json:"text"`
	// Value backs the row's control: level as 0 or 1, sample or duty.
	Value int `json:"value"`
	// Origin tells whether the last change came from a request or the board.
	Origin gateway.Origin `json:"origin"`
}

// Panel is the binding table between pins and their rows.
type Panel struct {
	Logger *logrus.Logger

	mu     sync.RWMutex
	views  map[int]View
	labels map[int]string
}

// New builds a panel from a snapshot of the pin table and the stored labels.
func New(pins []gateway.Pin, labels map[int]string, logger *logrus.Logger) *Panel {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	p := &Panel{
		Logger: logger,
		labels: make(map[int]string, len(labels)),
	}
	for pin, label := range labels {
		p.labels[pin] = label
	}
	p.Reset(pins)

	return p
}

// Reset rebuilds every row, e.g. after the gateway was replaced.
func (p *Panel) Reset(pins []gateway.Pin) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.views = make(map[int]View, len(pins))
	for _, pin := range pins {
		p.views[pin.Number] = p.render(pin, gateway.OriginRequest)
	}
}

// Run applies changes from queue until it closes or ctx is done.
func (p *Panel) Run(ctx context.Context, queue <-chan gateway.Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-queue:
			if !ok {
				return nil
			}

			p.Apply(change)
		}
	}
}

// Apply updates the row of the changed pin.
func (p *Panel) Apply(change gateway.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()

	view := p.render(change.Pin, change.Origin)
	p.views[view.Pin] = view

	p.Logger.WithFields(logrus.Fields{
		"pin":    view.Name,
		"text":   view.Text,
		"origin": change.Origin,
	}).Debug("panel row updated")
}

// SetLabel names a pin's row. An empty label restores the default.
func (p *Panel) SetLabel(pin int, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if label == "" {
		delete(p.labels, pin)
	} else {
		p.labels[pin] = label
	}

	if view, ok := p.views[pin]; ok {
		view.Label = p.label(pin, view.Name)
		p.views[pin] = view
	}
}

// View returns the row of pin.
func (p *Panel) View(pin int) (View, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	view, ok := p.views[pin]
	return view, ok
}

// Views returns every row ordered by pin number.
func (p *Panel) Views() []View {
	p.mu.RLock()
	defer p.mu.RUnlock()

	views := make([]View, 0, len(p.views))
	for _, view := range p.views {
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Pin < views[j].Pin })

	return views
}

func (p *Panel) label(pin int, name string) string {
	if label, ok := p.labels[pin]; ok {
		return label
	}
	return "Pin " + name
}

// render builds the row of a pin. Callers hold mu.
func (p *Panel) render(pin gateway.Pin, origin gateway.Origin) View {
	view := View{
		Pin:     pin.Number,
		Name:    pin.Name,
		Label:   p.label(pin.Number, pin.Name),
		Kind:    pin.Kind,
		Mode:    pin.Mode,
		Enabled: !pin.Reserved,
		Origin:  origin,
	}

	if pin.Reserved {
		view.Text = "Disabled for serial connection."
		return view
	}

	switch pin.Mode {
	case gpio.Input, gpio.Output:
		view.Text = volts(pin.Level)
		view.Value = levelValue(pin.Level)
	case gpio.Analog:
		view.Text = strconv.Itoa(pin.Sample)
		view.Value = pin.Sample
	case gpio.PWM:
		view.Text = strconv.Itoa(pin.Duty)
		view.Value = pin.Duty
	default:
		view.Text = idleText(pin)
	}

	return view
}

func idleText(pin gateway.Pin) string {
	switch {
	case pin.Mode == gpio.I2C:
		return "In use for I2C."
	case pin.Kind == hardware.AnalogCapable:
		return "Cannot write to analog pins."
	case pin.Kind == hardware.PWMCapable:
		return "Enable PWM to write values."
	default:
		return "Disabled"
	}
}

func volts(level gpio.Level) string {
	if level == gpio.High {
		return "5v"
	}
	return "0v"
}

func levelValue(level gpio.Level) int {
	if level == gpio.High {
		return 1
	}
	return 0
}
