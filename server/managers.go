package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware"
)

const (
	defaultReconnectFailures uint32 = 3
	defaultReconnectCooldown        = 10 * time.Second
)

// ReconnectConfig limits how hard an unreachable board is retried. After
// Failures connects in a row fail, connecting fails fast for Cooldown.
type ReconnectConfig struct {
	Failures uint32        `yaml:"failures"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// gatewayManager synchronizes access to the gateway of the connected board.
// Reconnecting replaces the gateway as a whole, so handlers borrow it through
// View and never keep it past their request.
type gatewayManager struct {
	gateway *gateway.Gateway
	mu      *sync.RWMutex
	logger  *logrus.Logger
	breaker *gobreaker.CircuitBreaker[*gateway.Gateway]
}

func newGatewayManager(config ReconnectConfig, logger *logrus.Logger) *gatewayManager {
	failures := config.Failures
	if failures == 0 {
		failures = defaultReconnectFailures
	}
	cooldown := config.Cooldown
	if cooldown == 0 {
		cooldown = defaultReconnectCooldown
	}

	breaker := gobreaker.NewCircuitBreaker[*gateway.Gateway](gobreaker.Settings{
		Name:        "board",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("reconnect breaker changed state")
		},
	})

	return &gatewayManager{
		mu:      new(sync.RWMutex),
		logger:  logger,
		breaker: breaker,
	}
}

// Update closes the current gateway, if any, and opens one on the device
// described by config. Handlers see gateway.ErrClosed while the device is
// being opened. While the breaker is open it fails with gobreaker.ErrOpenState
// without touching the device. Callers serialize Update.
func (m *gatewayManager) Update(ctx context.Context, config hardware.Config) (*gateway.Gateway, error) {
	if err := m.Close(); err != nil {
		m.logger.WithError(err).Warn("closing previous gateway")
	}

	g, err := m.breaker.Execute(func() (*gateway.Gateway, error) {
		device, board, err := hardware.New(ctx, config, m.logger)
		if err != nil {
			return nil, err
		}
		return gateway.Open(device, board, m.logger), nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create new device from config: %w", err)
	}

	m.mu.Lock()
	m.gateway = g
	m.mu.Unlock()

	return g, nil
}

// View calls fn with the current gateway. Without one it fails with
// gateway.ErrClosed, like a gateway whose device went away.
func (m *gatewayManager) View(fn func(g *gateway.Gateway) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.gateway == nil {
		return gateway.ErrClosed
	}

	return fn(m.gateway)
}

// Close closes the current gateway.
func (m *gatewayManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gateway == nil {
		return nil
	}

	err := m.gateway.Close()
	m.gateway = nil
	return err
}
