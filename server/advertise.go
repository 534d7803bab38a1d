package server

import (
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	mdnsService = "_pinpanel._tcp"
	mdnsDomain  = "local."
)

// advertise announces the panel listening on addr over mDNS so tablets on the
// same network can find it.
func advertise(name, addr string, logger *logrus.Logger) (*zeroconf.Server, error) {
	port, err := portOf(addr)
	if err != nil {
		return nil, err
	}

	server, err := zeroconf.Register(name, mdnsService, mdnsDomain, port, []string{"path=/panel", "events=/events", "socket=/ws"}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}

	logger.WithFields(logrus.Fields{"name": name, "port": port}).Info("advertising panel")
	return server, nil
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("listen address %q has no fixed port", addr)
	}

	return port, nil
}
