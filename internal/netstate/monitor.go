// Package netstate watches network reachability and drives the connection
// registry when it changes.
package netstate

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
)

// Registry is the part of *account.Connections the monitor drives.
type Registry interface {
	StartConnectionsFor(ctx context.Context, accounts []account.Account, internet bool)
	OnNoInternetConnection() map[string]error
}

// ProbeFunc reports whether the network is reachable.
type ProbeFunc func(ctx context.Context) bool

// TCPProbe dials addr. An empty addr is always reachable.
func TCPProbe(addr string, timeout time.Duration) ProbeFunc {
	if addr == "" {
		return func(context.Context) bool { return true }
	}
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// Monitor probes periodically. The first check and every change in
// reachability start or stop connections.
type Monitor struct {
	registry Registry
	accounts func() []account.Account
	probe    ProbeFunc
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	checked bool
	online  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. accounts is called on every change so that
// it sees the current account list.
func NewMonitor(registry Registry, accounts func() []account.Account, probe ProbeFunc, interval time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		registry: registry,
		accounts: accounts,
		probe:    probe,
		interval: interval,
		logger:   logger.Named("netstate"),
	}
}

// Start runs a first check synchronously, then keeps probing in the
// background until Stop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.Check(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Stop ends the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Online returns the last probe result.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Check probes once and reacts when reachability changed.
func (m *Monitor) Check(ctx context.Context) {
	online := m.probe(ctx)

	m.mu.Lock()
	changed := !m.checked || online != m.online
	m.checked, m.online = true, online
	m.mu.Unlock()

	if !changed {
		return
	}
	m.Apply(ctx, online)
}

// Apply forces a reachability state, as if a probe had returned online.
func (m *Monitor) Apply(ctx context.Context, online bool) {
	m.mu.Lock()
	m.checked, m.online = true, online
	m.mu.Unlock()

	accounts := m.accounts()
	if online {
		m.logger.Info("network available", zap.Int("accounts", len(accounts)))
		m.registry.StartConnectionsFor(ctx, accounts, true)
		return
	}
	m.logger.Warn("network unavailable")
	if failed := m.registry.OnNoInternetConnection(); len(failed) > 0 {
		m.logger.Error("some connections failed to stop", zap.Int("count", len(failed)))
	}
	m.registry.StartConnectionsFor(ctx, accounts, false)
}
