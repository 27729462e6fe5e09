// Package connectivity tracks the two orthogonal connectivity signals and
// triggers queue replay when the device comes back online.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultProbeInterval is how often the reachability probe runs.
const DefaultProbeInterval = 10 * time.Second

// NetworkToggler is the remote-store network switch the monitor drives.
type NetworkToggler interface {
	EnableNetwork(ctx context.Context) error
	DisableNetwork(ctx context.Context) error
}

// Replayer is the mutation queue surface the monitor triggers on recovery.
type Replayer interface {
	ReplayAll(ctx context.Context) error
	Len() int
}

// ProbeFunc performs one reachability check. A nil error means reachable.
type ProbeFunc func(ctx context.Context) error

// Monitor owns the process-wide connectivity state.
//
// isOnline follows the platform's network signal, reported through SetOnline.
// isConnected follows the explicit offline-mode toggles and the periodic
// reachability probe. The two can diverge: online with a dead probe means the
// device has a link but the store is unreachable.
//
// The monitor never blocks its caller: transition handlers run fire-and-forget
// and a failed replay leaves the queue consistent for the next attempt.
type Monitor struct {
	remote   NetworkToggler
	replayer Replayer
	probe    ProbeFunc
	interval time.Duration

	mu        sync.Mutex
	online    bool
	connected bool
	forcedOff bool
}

// NewMonitor creates a Monitor. Both signals start true; the first probe
// cycle corrects isConnected if the store is unreachable.
func NewMonitor(remote NetworkToggler, replayer Replayer, probe ProbeFunc, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		remote:    remote,
		replayer:  replayer,
		probe:     probe,
		interval:  interval,
		online:    true,
		connected: true,
	}
}

// IsOnline reports the platform network signal.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// IsConnected reports remote-store reachability.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetOnline feeds the platform's online/offline events into the monitor.
//
// The offline-to-online transition re-enables the remote network layer and
// then triggers exactly one replay cycle if the queue is non-empty, without
// blocking the caller. Going offline triggers nothing: new mutations are
// expected to queue instead of being sent directly.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	if online {
		m.connected = true
		m.forcedOff = false
	}
	m.mu.Unlock()

	if online && !wasOnline {
		go m.handleRecovery()
	}
}

func (m *Monitor) handleRecovery() {
	ctx := context.Background()

	if err := m.remote.EnableNetwork(ctx); err != nil {
		slog.Warn("failed to re-enable remote network",
			"error", err,
			"component", "connectivity",
		)
	}

	if m.replayer.Len() == 0 {
		return
	}
	if err := m.replayer.ReplayAll(ctx); err != nil {
		slog.Warn("replay after recovery failed",
			"error", err,
			"component", "connectivity",
		)
	}
}

// EnableOfflineMode forces the remote store into a disconnected mode,
// independent of the network signal. Failures are reported, never returned.
func (m *Monitor) EnableOfflineMode(ctx context.Context) {
	if err := m.remote.DisableNetwork(ctx); err != nil {
		slog.Warn("failed to disable remote network",
			"error", err,
			"component", "connectivity",
		)
		return
	}

	m.mu.Lock()
	m.connected = false
	m.forcedOff = true
	m.mu.Unlock()
}

// DisableOfflineMode lifts the forced disconnect.
func (m *Monitor) DisableOfflineMode(ctx context.Context) {
	if err := m.remote.EnableNetwork(ctx); err != nil {
		slog.Warn("failed to enable remote network",
			"error", err,
			"component", "connectivity",
		)
		return
	}

	m.mu.Lock()
	m.connected = true
	m.forcedOff = false
	m.mu.Unlock()
}

// Run starts the reachability probe loop. It probes immediately, then on each
// tick, and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("connectivity monitor started",
		"interval", m.interval.String(),
		"component", "connectivity",
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runProbe(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity monitor stopped",
				"reason", "context_cancelled",
				"component", "connectivity",
			)
			return
		case <-ticker.C:
			m.runProbe(ctx)
		}
	}
}

// runProbe performs one reachability check and records the result. While
// offline mode is forced, the probe is skipped so it cannot undo the
// operator's explicit disconnect.
func (m *Monitor) runProbe(ctx context.Context) {
	m.mu.Lock()
	forced := m.forcedOff
	m.mu.Unlock()
	if forced {
		return
	}

	err := m.probe(ctx)

	m.mu.Lock()
	was := m.connected
	m.connected = err == nil
	now := m.connected
	m.mu.Unlock()

	if was != now {
		slog.Info("reachability changed",
			"connected", now,
			"component", "connectivity",
		)
	}
}

// HTTPProbe returns a ProbeFunc that issues a GET against an always-up
// endpoint, relying on the client's own timeout.
func HTTPProbe(url string, client *http.Client) ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("probe endpoint returned %d", resp.StatusCode)
		}
		return nil
	}
}
