// Package gateway owns the state of every pin of a connected board. Clients
// query and change pins through it, and it folds the board's own reports into
// the same table, handing out change events so nobody needs to poll.
//
// Requests are fire-and-forget: state is updated as soon as the request is
// handed to the device, without waiting for the board to acknowledge it.
package gateway

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

// DefaultBuffer is the queue length of OnPinChanged subscribers.
const DefaultBuffer = 64

type subscriber struct {
	queue chan Change
}

// Gateway is the single owner of a board's pin table.
type Gateway struct {
	Logger *logrus.Logger

	device gpio.Device
	board  hardware.Board

	// mu guards the table and the subscribers. Changes are queued while it is
	// held, which keeps every subscriber's view in table order.
	mu     sync.RWMutex
	pins   []Pin
	seq    uint64
	subs   map[uint64]*subscriber
	nextID uint64

	closing  chan struct{}
	pumpDone chan struct{}
	once     sync.Once
}

// Open creates one record per pin of board and starts folding the device's
// reports into them. The gateway owns device from now on.
func Open(device gpio.Device, board hardware.Board, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	pins := make([]Pin, board.PinCount())
	for i := range pins {
		pins[i] = Pin{
			Number:   i,
			Name:     board.PinName(i),
			Kind:     board.Kind(i),
			Reserved: board.Reserved(i),
			Mode:     gpio.Unset,
		}
	}

	g := &Gateway{
		Logger:   logger,
		device:   device,
		board:    board,
		pins:     pins,
		subs:     make(map[uint64]*subscriber),
		closing:  make(chan struct{}),
		pumpDone: make(chan struct{}),
	}

	go g.pump()

	return g
}

// Board returns the layout the gateway was opened with.
func (g *Gateway) Board() hardware.Board {
	return g.board
}

// Close discards the pin table, ends every subscription and closes the device.
func (g *Gateway) Close() error {
	err := ErrClosed
	g.once.Do(func() {
		close(g.closing)

		g.mu.Lock()
		g.discard()
		g.mu.Unlock()

		err = g.device.Close()
		<-g.pumpDone
	})

	return err
}

// discard drops the table and closes all subscriber queues. Callers hold mu.
func (g *Gateway) discard() {
	g.pins = nil
	for id, sub := range g.subs {
		close(sub.queue)
		delete(g.subs, id)
	}
}

// pump folds device reports into the table until the device goes away.
func (g *Gateway) pump() {
	defer close(g.pumpDone)

	for u := range g.device.Updates() {
		g.apply(u)
	}

	select {
	case <-g.closing:
	default:
		g.Logger.Warn("device disconnected, discarding pin state")

		g.mu.Lock()
		g.discard()
		g.mu.Unlock()
	}
}

func (g *Gateway) apply(u gpio.Update) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pins == nil {
		return
	}

	if !g.board.Valid(u.Pin) {
		g.Logger.WithField("pin", u.Pin).Debug("ignoring report for unknown pin")
		return
	}
	p := &g.pins[u.Pin]

	switch u.Kind {
	case gpio.DigitalUpdate:
		if p.Mode != gpio.Input && p.Mode != gpio.Output {
			g.Logger.WithFields(logrus.Fields{"pin": u.Pin, "mode": p.Mode}).Debug("ignoring digital report")
			return
		}
		if p.Level == u.Level {
			return
		}
		p.Level = u.Level
	case gpio.AnalogUpdate:
		if p.Mode != gpio.Analog {
			g.Logger.WithFields(logrus.Fields{"pin": u.Pin, "mode": p.Mode}).Debug("ignoring analog report")
			return
		}
		sample := gpio.ClampSample(u.Sample)
		if p.Sample == sample {
			return
		}
		p.Sample = sample
	default:
		return
	}

	g.publish(*p, ValueChanged, OriginDevice)
}

// publish queues a change for every subscriber. Callers hold mu. A subscriber
// that fell behind loses the change: it is a display hint, not a command.
func (g *Gateway) publish(p Pin, cause Cause, origin Origin) {
	g.seq++
	change := Change{
		Seq:    g.seq,
		Pin:    p,
		Cause:  cause,
		Origin: origin,
		Time:   time.Now(),
	}

	for id, sub := range g.subs {
		select {
		case sub.queue <- change:
		default:
			g.Logger.WithFields(logrus.Fields{"subscriber": id, "pin": p.Number}).Warn("subscriber queue full, dropping change")
		}
	}
}

// Subscribe returns a queue receiving every change, for a consumer draining it
// on its own loop. The queue is closed by cancel or when the gateway closes.
func (g *Gateway) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &subscriber{queue: make(chan Change, buffer)}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pins == nil {
		close(sub.queue)
		return sub.queue, func() {}
	}

	g.nextID++
	id := g.nextID
	g.subs[id] = sub

	cancel := func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		if _, ok := g.subs[id]; ok {
			delete(g.subs, id)
			close(sub.queue)
		}
	}

	return sub.queue, cancel
}

// OnPinChanged calls fn for every change, on a goroutine of its own and in the
// order changes happened. Changes carry their Origin, so a consumer can tell
// its own requests from the board's reports. Call the returned function to
// stop.
func (g *Gateway) OnPinChanged(fn func(Change)) func() {
	queue, cancel := g.Subscribe(DefaultBuffer)

	go func() {
		for change := range queue {
			fn(change)
		}
	}()

	return cancel
}

// Pins returns a snapshot of the whole table.
func (g *Gateway) Pins() ([]Pin, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.pins == nil {
		return nil, ErrClosed
	}

	out := make([]Pin, len(g.pins))
	copy(out, g.pins)
	return out, nil
}

// Pin returns a snapshot of one pin.
func (g *Gateway) Pin(pin int) (Pin, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, err := g.lookup(pin)
	if err != nil {
		return Pin{}, err
	}

	return *p, nil
}

// lookup finds a pin record. Callers hold mu.
func (g *Gateway) lookup(pin int) (*Pin, error) {
	if g.pins == nil {
		return nil, ErrClosed
	}

	if pin < 0 || pin >= len(g.pins) {
		return nil, UnknownPinError{Pin: pin}
	}

	return &g.pins[pin], nil
}

// mutable finds a pin record that may be changed. Callers hold mu.
func (g *Gateway) mutable(pin int) (*Pin, error) {
	p, err := g.lookup(pin)
	if err != nil {
		return nil, err
	}

	if p.Reserved {
		return nil, ReservedPinError{Pin: pin}
	}

	return p, nil
}

// deviceFailed logs a request the device could not take. The table already
// reflects the request.
func (g *Gateway) deviceFailed(err error, op string, pin int) {
	if err == nil {
		return
	}

	g.Logger.WithFields(logrus.Fields{"op": op, "pin": pin}).WithError(err).Error("device rejected request")
}
