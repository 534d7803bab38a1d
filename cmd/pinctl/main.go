package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
	"github.com/turkycat/remote-wiring-experience/internal/flags"
	"github.com/turkycat/remote-wiring-experience/internal/panel"
	"golang.org/x/time/rate"
)

const usage = `usage: pinctl [flags] <command> <pin> [value]

commands:
  mode  <pin> <input|output|analog|pwm|i2c>
  write <pin> <value>   drive the pin HIGH for non-zero values, LOW for zero
  pwm   <pin> <duty>    duty is 0 - 255, hex (0x80) and binary (0b1010) work too
  read  <pin>           wait for the board to report the pin, then print it
  sweep <pin>           fade a PWM pin up and down until interrupted

flags:`

func main() {
	hw := flags.Register(flag.CommandLine)
	wait := flag.Duration("wait", 3*time.Second, "How long read waits for a report.")
	step := flag.Duration("step", 10*time.Millisecond, "Time between duty changes of sweep.")
	verbose := flag.Bool("v", false, "Log at debug level.")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(2)
	}

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

	pin, err := board.ParsePin(args[1])
	if err != nil {
		fatalf("%v", err)
	}

	g := gateway.Open(device, board, logger)
	err = run(ctx, g, args[0], pin, args[2:], *wait, *step)
	g.Close()

	if err != nil {
		fatalf("%s", panel.Message(err))
	}
}

func run(ctx context.Context, g *gateway.Gateway, command string, pin int, rest []string, wait, step time.Duration) error {
	value := func() (int, error) {
		if len(rest) != 1 {
			return 0, fmt.Errorf("%s needs a value", command)
		}
		return panel.ParseValue(rest[0])
	}

	switch command {
	case "mode":
		if len(rest) != 1 {
			return fmt.Errorf("mode needs a mode")
		}
		mode, err := gpio.ParseMode(rest[0])
		if err != nil {
			return err
		}
		return g.SetMode(pin, mode)

	case "write":
		n, err := value()
		if err != nil {
			return err
		}
		if err := g.SetMode(pin, gpio.Output); err != nil {
			return err
		}
		return g.DigitalWrite(pin, n != 0)

	case "pwm":
		n, err := value()
		if err != nil {
			return err
		}
		if err := g.SetMode(pin, gpio.PWM); err != nil {
			return err
		}
		return g.AnalogWrite(pin, n)

	case "read":
		return read(ctx, g, pin, wait)

	case "sweep":
		return sweep(ctx, g, pin, step)
	}

	return fmt.Errorf("unknown command %q", command)
}

// read puts pin in a reading mode and prints the first value the board
// reports. A board only reports digital pins on change, so a steady level may
// never arrive: the last known value is printed after wait.
func read(ctx context.Context, g *gateway.Gateway, pin int, wait time.Duration) error {
	mode := gpio.Input
	if g.Board().Kind(pin) == hardware.AnalogCapable {
		mode = gpio.Analog
	}

	queue, cancel := g.Subscribe(gateway.DefaultBuffer)
	defer cancel()

	if err := g.SetMode(pin, mode); err != nil {
		return err
	}

	timeout := time.NewTimer(wait)
	defer timeout.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			break loop
		case change, ok := <-queue:
			if !ok {
				return gateway.ErrClosed
			}
			if change.Pin.Number == pin && change.Origin == gateway.OriginDevice {
				break loop
			}
		}
	}

	if mode == gpio.Analog {
		sample, err := g.AnalogRead(pin)
		if err != nil {
			return err
		}
		fmt.Println(sample)
		return nil
	}

	level, err := g.DigitalRead(pin)
	if err != nil {
		return err
	}
	fmt.Println(level)
	return nil
}

// sweep fades pin from 0 to full duty and back until ctx is done.
func sweep(ctx context.Context, g *gateway.Gateway, pin int, step time.Duration) error {
	if err := g.SetMode(pin, gpio.PWM); err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Every(step), 1)
	duty, delta := 0, 5

	for {
		if err := limiter.Wait(ctx); err != nil {
			// interrupted, leave the pin dark
			return g.AnalogWrite(pin, 0)
		}

		if err := g.AnalogWrite(pin, duty); err != nil {
			return err
		}

		if duty+delta > gpio.MaxDuty || duty+delta < 0 {
			delta = -delta
		}
		duty += delta
	}
}

func fatalf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, "pinctl: "+format+"\n", args...)
	os.Exit(1)
}
