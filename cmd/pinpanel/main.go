package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/turkycat/remote-wiring-experience/internal/config"
	"github.com/turkycat/remote-wiring-experience/journal"
	"github.com/turkycat/remote-wiring-experience/server"
	"github.com/turkycat/remote-wiring-experience/store"
)

func main() {
	configPath := flag.String("config", "pinpanel.yaml", "Path of the YAML config. A missing file means defaults.")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	logger := cfg.Logger()

	store, err := store.OpenBBolt(cfg.StorePath, 0666, nil)
	if err != nil {
		logger.WithError(err).Fatal("unable to open store")
	}
	defer store.Close()

	journal, err := journal.Open(cfg.JournalDir, logger)
	if err != nil {
		logger.WithError(err).Fatal("unable to open journal")
	}
	defer journal.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := server.Server{
		Addr:      cfg.Addr,
		Store:     store,
		Journal:   journal,
		Hardware:  cfg.Hardware,
		Reconnect: cfg.Reconnect,
		Advertise: cfg.Advertise,
		Logger:    logger,
	}

	if err := server.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("server stopped")
	}
}
