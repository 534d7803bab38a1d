package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/internal/panel"
	"github.com/turkycat/remote-wiring-experience/journal"
	"github.com/turkycat/remote-wiring-experience/store"
)

type Server struct {
	Addr string

	Store store.Store
	// Journal records every change when set.
	Journal *journal.Journal
	// Hardware is used when the store has no hardware config yet.
	Hardware  hardware.Config
	Reconnect ReconnectConfig
	// Advertise, when set, is the instance name the panel announces over
	// mDNS.
	Advertise string
	Logger    *logrus.Logger

	ctx       context.Context
	panel     *panel.Panel
	panelDone chan struct{}
	connectMu sync.Mutex

	gatewayManager *gatewayManager
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("unable to initialize: %w", err)
	}
	defer s.gatewayManager.Close()

	httpServer := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       time.Second * 15,
		ReadHeaderTimeout: time.Second * 15,
		IdleTimeout:       time.Second * 30,
		MaxHeaderBytes:    4096,
	}

	if s.Advertise != "" {
		announcer, err := advertise(s.Advertise, s.Addr, s.Logger)
		if err != nil {
			s.Logger.WithError(err).Warn("unable to advertise panel")
		} else {
			defer announcer.Shutdown()
		}
	}

	listenErrs := make(chan error)
	go func() {
		s.Logger.WithField("addr", s.Addr).Info("serving http")
		listenErrs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-listenErrs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// Init connects to the board from the stored hardware config, falling back to
// s.Hardware. A board that can't be reached is logged, not fatal: it can be
// fixed over http and reconnected.
func (s *Server) Init(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	if s.Store == nil {
		return errors.New("server has no store")
	}

	s.ctx = ctx
	s.gatewayManager = newGatewayManager(s.Reconnect, s.Logger)

	labels, err := s.Store.Labels()
	if err != nil {
		return fmt.Errorf("unable to load pin labels: %w", err)
	}
	s.panel = panel.New(nil, labels, s.Logger)

	config, err := s.hardwareConfig()
	if err != nil {
		s.Logger.Warnf("no hardware config found: %s", err)
		return nil
	}

	if err := s.connect(config); err != nil {
		s.Logger.Warnf("unable to setup board: %s", err)
	}

	return nil
}

// Handler routes the http api.
func (s *Server) Handler() http.Handler {
	mux := httprouter.New()

	mux.HandlerFunc(http.MethodGet, "/pins", s.getPins)
	mux.HandlerFunc(http.MethodGet, "/pins/:pin", s.getPin)
	mux.HandlerFunc(http.MethodPut, "/pins/:pin/mode", s.putMode)
	mux.HandlerFunc(http.MethodPut, "/pins/:pin/level", s.putLevel)
	mux.HandlerFunc(http.MethodPut, "/pins/:pin/duty", s.putDuty)
	mux.HandlerFunc(http.MethodPut, "/pins/:pin/label", s.putLabel)
	mux.HandlerFunc(http.MethodGet, "/pins/:pin/history", s.getHistory)

	mux.HandlerFunc(http.MethodGet, "/panel", s.getPanel)
	mux.HandlerFunc(http.MethodGet, "/events", s.events)
	mux.HandlerFunc(http.MethodGet, "/ws", s.socket)

	mux.HandlerFunc(http.MethodGet, "/hardware", s.getHardware)
	mux.HandlerFunc(http.MethodPut, "/hardware", s.putHardware)

	mux.HandlerFunc(http.MethodPost, "/rpc/reconnect", s.reconnect)

	return mux
}

func (s *Server) hardwareConfig() (hardware.Config, error) {
	config, err := s.Store.HardwareConfig()
	if err == nil {
		return config, nil
	}

	if errors.Is(err, store.ErrNotFound) && s.Hardware.Validate() == nil {
		return s.Hardware, nil
	}

	return config, err
}

// connect replaces the gateway and points the panel and the journal at it.
func (s *Server) connect(config hardware.Config) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	g, err := s.gatewayManager.Update(s.ctx, config)

	// the previous gateway is closed by now, let its panel runner drain
	if s.panelDone != nil {
		<-s.panelDone
		s.panelDone = nil
	}

	if err != nil {
		s.panel.Reset(nil)
		return err
	}

	// subscribe before the snapshot so no change falls in between
	queue, cancel := g.Subscribe(gateway.DefaultBuffer)
	pins, err := g.Pins()
	if err != nil {
		cancel()
		return fmt.Errorf("unable to read pins of new gateway: %w", err)
	}
	s.panel.Reset(pins)

	done := make(chan struct{})
	s.panelDone = done
	go func() {
		defer close(done)
		defer cancel()
		if err := s.panel.Run(s.ctx, queue); err != nil && !errors.Is(err, context.Canceled) {
			s.Logger.WithError(err).Warn("panel stopped")
		}
	}()

	if s.Journal != nil {
		queue, unsubscribe := g.Subscribe(gateway.DefaultBuffer)
		go func() {
			defer unsubscribe()
			s.Journal.Follow(s.ctx, queue)
		}()
	}

	s.Logger.WithField("board", g.Board().Name).Info("board connected")
	return nil
}
