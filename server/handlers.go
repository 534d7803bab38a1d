package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/sony/gobreaker/v2"
	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
	"github.com/turkycat/remote-wiring-experience/internal/panel"
)

var (
	errBadPin  = errors.New("no such pin")
	errBadBody = errors.New("bad request body")
)

func pinParam(req *http.Request, board hardware.Board) (int, error) {
	params := httprouter.ParamsFromContext(req.Context())

	pin, err := board.ParsePin(params.ByName("pin"))
	if err != nil {
		return 0, fmt.Errorf("%w: %s", errBadPin, err)
	}

	return pin, nil
}

func decode(req *http.Request, v interface{}) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %s", errBadBody, err)
	}
	return nil
}

// pinHandler runs fn against the current gateway with the pin named in the
// path, responding with the pin's state afterwards.
func (s *Server) pinHandler(fn func(req *http.Request, g *gateway.Gateway, pin int) error) http.HandlerFunc {
	return func(res http.ResponseWriter, req *http.Request) {
		var p gateway.Pin

		err := s.gatewayManager.View(func(g *gateway.Gateway) error {
			pin, err := pinParam(req, g.Board())
			if err != nil {
				return err
			}

			if fn != nil {
				if err := fn(req, g, pin); err != nil {
					return err
				}
			}

			p, err = g.Pin(pin)
			return err
		})
		if err != nil {
			respondErr(res, err)
			return
		}

		respond(res, p, http.StatusOK)
	}
}

func (s *Server) getPins(res http.ResponseWriter, req *http.Request) {
	var pins []gateway.Pin

	err := s.gatewayManager.View(func(g *gateway.Gateway) error {
		var err error
		pins, err = g.Pins()
		return err
	})
	if err != nil {
		respondErr(res, err)
		return
	}

	respond(res, pins, http.StatusOK)
}

func (s *Server) getPin(res http.ResponseWriter, req *http.Request) {
	s.pinHandler(nil)(res, req)
}

type modeRequest struct {
	Mode gpio.Mode `json:"mode"`
}

func (s *Server) putMode(res http.ResponseWriter, req *http.Request) {
	s.pinHandler(func(req *http.Request, g *gateway.Gateway, pin int) error {
		var body modeRequest
		if err := decode(req, &body); err != nil {
			return err
		}

		return g.SetMode(pin, body.Mode)
	})(res, req)
}

type levelRequest struct {
	Level gpio.Level `json:"level"`
}

func (s *Server) putLevel(res http.ResponseWriter, req *http.Request) {
	s.pinHandler(func(req *http.Request, g *gateway.Gateway, pin int) error {
		var body levelRequest
		if err := decode(req, &body); err != nil {
			return err
		}

		return g.DigitalWrite(pin, body.Level)
	})(res, req)
}

// dutyRequest carries either a number or the text typed into the panel,
// which may be hex or binary.
type dutyRequest struct {
	Duty *int   `json:"duty"`
	Text string `json:"text"`
}

func (s *Server) putDuty(res http.ResponseWriter, req *http.Request) {
	s.pinHandler(func(req *http.Request, g *gateway.Gateway, pin int) error {
		var body dutyRequest
		if err := decode(req, &body); err != nil {
			return err
		}

		var duty int
		switch {
		case body.Duty != nil:
			duty = *body.Duty
		case body.Text != "":
			var err error
			if duty, err = panel.ParseValue(body.Text); err != nil {
				return fmt.Errorf("%w: %s", errBadBody, err)
			}
		default:
			return fmt.Errorf("%w: duty or text is required", errBadBody)
		}

		return g.AnalogWrite(pin, duty)
	})(res, req)
}

type labelRequest struct {
	Label string `json:"label"`
}

func (s *Server) putLabel(res http.ResponseWriter, req *http.Request) {
	var view panel.View

	err := s.gatewayManager.View(func(g *gateway.Gateway) error {
		pin, err := pinParam(req, g.Board())
		if err != nil {
			return err
		}
		if !g.Board().Valid(pin) {
			return gateway.UnknownPinError{Pin: pin}
		}

		var body labelRequest
		if err := decode(req, &body); err != nil {
			return err
		}

		if err := s.Store.PutLabel(pin, body.Label); err != nil {
			return err
		}
		s.panel.SetLabel(pin, body.Label)

		view, _ = s.panel.View(pin)
		return nil
	})
	if err != nil {
		respondErr(res, err)
		return
	}

	respond(res, view, http.StatusOK)
}

func (s *Server) getHistory(res http.ResponseWriter, req *http.Request) {
	limit := 0
	if q := req.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			respond(res, fmt.Errorf("invalid limit %q", q), http.StatusBadRequest)
			return
		}
		limit = n
	}

	var changes []gateway.Change

	err := s.gatewayManager.View(func(g *gateway.Gateway) error {
		pin, err := pinParam(req, g.Board())
		if err != nil {
			return err
		}
		if !g.Board().Valid(pin) {
			return gateway.UnknownPinError{Pin: pin}
		}

		if s.Journal == nil {
			changes = []gateway.Change{}
			return nil
		}

		changes, err = s.Journal.History(pin, limit)
		return err
	})
	if err != nil {
		respondErr(res, err)
		return
	}

	if changes == nil {
		changes = []gateway.Change{}
	}
	respond(res, changes, http.StatusOK)
}

func (s *Server) getPanel(res http.ResponseWriter, req *http.Request) {
	respond(res, s.panel.Views(), http.StatusOK)
}

// events streams every change of the current gateway as server-sent events.
// The stream ends when the client leaves or the gateway is replaced.
func (s *Server) events(res http.ResponseWriter, req *http.Request) {
	var (
		queue  <-chan gateway.Change
		cancel func()
	)

	err := s.gatewayManager.View(func(g *gateway.Gateway) error {
		queue, cancel = g.Subscribe(gateway.DefaultBuffer)
		return nil
	})
	if err != nil {
		respondErr(res, err)
		return
	}
	defer cancel()

	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	flusher, _ := res.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case change, ok := <-queue:
			if !ok {
				return
			}

			data, err := json.Marshal(change)
			if err != nil {
				s.Logger.WithError(err).Error("unable to marshal change")
				continue
			}

			fmt.Fprintf(res, "id: %d\ndata: %s\n\n", change.Seq, data)
			if flusher != nil {
				flusher.Flush()
			}
		case <-req.Context().Done():
			return
		}
	}
}

func (s *Server) getHardware(res http.ResponseWriter, req *http.Request) {
	config, err := s.hardwareConfig()
	if err != nil {
		respond(res, err, http.StatusNotFound)
		return
	}

	respond(res, config, http.StatusOK)
}

func (s *Server) putHardware(res http.ResponseWriter, req *http.Request) {
	var config hardware.Config
	if err := json.NewDecoder(req.Body).Decode(&config); err != nil {
		respond(res, err, http.StatusUnprocessableEntity)
		return
	}

	if err := config.Validate(); err != nil {
		respond(res, err, http.StatusUnprocessableEntity)
		return
	}

	if err := s.Store.PutHardwareConfig(config); err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, nil, http.StatusNoContent)
}

// reconnect replaces the gateway with one on the stored hardware config.
func (s *Server) reconnect(res http.ResponseWriter, req *http.Request) {
	config, err := s.hardwareConfig()
	if err != nil {
		respond(res, err, http.StatusConflict)
		return
	}

	if err := s.connect(config); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = http.StatusServiceUnavailable
		}
		respond(res, err, status)
		return
	}

	respond(res, nil, http.StatusNoContent)
}
