package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/turkycat/remote-wiring-experience/firmata"
	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
	"github.com/turkycat/remote-wiring-experience/internal/flags"
)

func main() {
	hw := flags.Register(flag.CommandLine)
	pinList := flag.String("pins", "", "Comma separated pins to watch, e.g. 2,7,A0. Empty watches every free pin.")
	verbose := flag.Bool("v", false, "Log at debug level.")
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	config, err := hw.Config()
	if err != nil {
		fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, board, err := hardware.New(ctx, config, logger)
	if err != nil {
		fatalf("%v", err)
	}

	g := gateway.Open(device, board, logger)
	defer g.Close()

	pins, err := watchList(board, *pinList)
	if err != nil {
		fatalf("%v", err)
	}

	queue, cancel := g.Subscribe(gateway.DefaultBuffer)
	defer cancel()

	for _, pin := range pins {
		mode := gpio.Input
		if board.Kind(pin) == hardware.AnalogCapable {
			mode = gpio.Analog
		}

		if err := g.SetMode(pin, mode); err != nil {
			logger.WithField("pin", board.PinName(pin)).WithError(err).Warn("unable to watch pin")
			continue
		}

		// firmata boards can tell what they think the pin is doing
		if client, ok := device.(*firmata.Client); ok && *verbose {
			if err := client.QueryPinState(pin); err != nil {
				logger.WithError(err).Debug("unable to query pin state")
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-queue:
			if !ok {
				logger.Warn("board disconnected")
				return
			}
			if change.Origin != gateway.OriginDevice {
				continue
			}

			fields := logrus.Fields{"pin": change.Pin.Name, "mode": change.Pin.Mode}
			if change.Pin.Mode == gpio.Analog {
				fields["sample"] = change.Pin.Sample
			} else {
				fields["level"] = change.Pin.Level
			}
			logger.WithFields(fields).Info("pin changed")
		}
	}
}

func watchList(board hardware.Board, list string) ([]int, error) {
	var pins []int

	if list == "" {
		for pin := 0; pin < board.PinCount(); pin++ {
			if !board.Reserved(pin) {
				pins = append(pins, pin)
			}
		}
		return pins, nil
	}

	for _, name := range strings.Split(list, ",") {
		pin, err := board.ParsePin(name)
		if err != nil {
			return nil, err
		}
		if !board.Valid(pin) {
			return nil, gateway.UnknownPinError{Pin: pin}
		}
		pins = append(pins, pin)
	}

	return pins, nil
}

func fatalf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, "pinwatch: "+format+"\n", args...)
	os.Exit(2)
}
