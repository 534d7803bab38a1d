package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
	"github.com/turkycat/remote-wiring-experience/internal/panel"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// socketFrame is sent to websocket clients: a change of the gateway, or the
// result of one of their commands.
type socketFrame struct {
	Type   string          `json:"type"`
	ID     int             `json:"id,omitempty"`
	Change *gateway.Change `json:"change,omitempty"`
	Pin    *gateway.Pin    `json:"pin,omitempty"`
	Error  string          `json:"error,omitempty"`
	Notice string          `json:"notice,omitempty"`
}

const (
	frameChange = "change"
	frameResult = "result"
)

// socketCommand is a request of a websocket client. Op is one of get, mode,
// level and duty. Duty may be given as panel text instead.
type socketCommand struct {
	ID    int        `json:"id"`
	Op    string     `json:"op"`
	Pin   string     `json:"pin"`
	Mode  gpio.Mode  `json:"mode,omitempty"`
	Level gpio.Level `json:"level,omitempty"`
	Duty  int        `json:"duty,omitempty"`
	Text  string     `json:"text,omitempty"`
}

// socket serves a websocket that pushes every change like /events and takes
// commands in the other direction. It closes when the gateway is replaced.
func (s *Server) socket(res http.ResponseWriter, req *http.Request) {
	var (
		queue       <-chan gateway.Change
		unsubscribe func()
	)

	err := s.gatewayManager.View(func(g *gateway.Gateway) error {
		queue, unsubscribe = g.Subscribe(gateway.DefaultBuffer)
		return nil
	})
	if err != nil {
		respondErr(res, err)
		return
	}
	defer unsubscribe()

	conn, err := websocket.Accept(res, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
	})
	if err != nil {
		s.Logger.WithError(err).Warn("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, stop := context.WithCancel(req.Context())
	defer stop()

	results := make(chan socketFrame, gateway.DefaultBuffer)
	go func() {
		defer stop()
		for {
			var cmd socketCommand
			if err := wsjson.Read(ctx, conn, &cmd); err != nil {
				return
			}

			select {
			case results <- s.command(cmd):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var frame socketFrame

		select {
		case <-ctx.Done():
			return
		case change, ok := <-queue:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "board disconnected")
				return
			}
			frame = socketFrame{Type: frameChange, Change: &change}
		case frame = <-results:
		}

		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := wsjson.Write(writeCtx, conn, frame)
		cancel()
		if err != nil {
			s.Logger.WithError(err).Debug("websocket write failed")
			return
		}
	}
}

func (s *Server) command(cmd socketCommand) socketFrame {
	frame := socketFrame{Type: frameResult, ID: cmd.ID}

	var p gateway.Pin
	err := s.gatewayManager.View(func(g *gateway.Gateway) error {
		pin, err := g.Board().ParsePin(cmd.Pin)
		if err != nil {
			return fmt.Errorf("%w: %s", errBadPin, err)
		}

		switch cmd.Op {
		case "get":
		case "mode":
			err = g.SetMode(pin, cmd.Mode)
		case "level":
			err = g.DigitalWrite(pin, cmd.Level)
		case "duty":
			duty := cmd.Duty
			if cmd.Text != "" {
				if duty, err = panel.ParseValue(cmd.Text); err != nil {
					return fmt.Errorf("%w: %s", errBadBody, err)
				}
			}
			err = g.AnalogWrite(pin, duty)
		default:
			return fmt.Errorf("%w: unknown op %q", errBadBody, cmd.Op)
		}
		if err != nil {
			return err
		}

		p, err = g.Pin(pin)
		return err
	})
	if err != nil {
		frame.Error = err.Error()
		frame.Notice = panel.Message(err)
		return frame
	}

	frame.Pin = &p
	return frame
}
