// Package offline is the embeddable client surface for the offline action
// queue and optimistic sync subsystem. It wires the mutation queue, the
// connectivity monitor and the optimistic reconciler over a remote document
// store and a local durable storage.
package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hearthapp/hearth/internal/connectivity"
	"github.com/hearthapp/hearth/internal/localstore"
	"github.com/hearthapp/hearth/internal/queue"
	"github.com/hearthapp/hearth/internal/reconcile"
	"github.com/hearthapp/hearth/internal/remote"
	"github.com/hearthapp/hearth/internal/types"
)

// Config carries the client's collaborators and tuning knobs.
type Config struct {
	// Storage is the local durable storage backing the queue. Required.
	Storage localstore.Storage

	// Remote is the remote document store adapter. Required.
	Remote remote.Store

	// ProbeURL is the reachability probe target. When empty the remote
	// store's health check is probed instead.
	ProbeURL string

	// ProbeInterval is how often the reachability probe runs.
	// Defaults to 10s.
	ProbeInterval time.Duration

	// MaxRetries caps replay attempts per queued action. Defaults to 3.
	MaxRetries int

	// StorageKey overrides the key the serialized queue is persisted under.
	StorageKey string
}

// Client composes the sync subsystem behind one surface.
type Client struct {
	remote     remote.Store
	queue      *queue.Queue
	monitor    *connectivity.Monitor
	reconciler *reconcile.Reconciler

	mu     sync.RWMutex
	closed bool
}

// New creates a Client. The queue is hydrated from storage immediately;
// background probing starts when Run is called.
func New(cfg Config) (*Client, error) {
	if cfg.Storage == nil {
		return nil, errors.New("Storage is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("Remote is required")
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = connectivity.DefaultProbeInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = queue.DefaultMaxRetries
	}

	q, err := queue.NewWithKey(cfg.Storage, cfg.Remote, cfg.MaxRetries, cfg.StorageKey)
	if err != nil {
		return nil, err
	}

	rec := reconcile.New(cfg.Remote, q)
	q.SetDropHandler(rec.HandleDrop)
	q.SetReplayHandler(rec.HandleReplayed)

	probe := connectivity.ProbeFunc(cfg.Remote.CheckHealth)
	if cfg.ProbeURL != "" {
		probe = connectivity.HTTPProbe(cfg.ProbeURL, nil)
	}
	mon := connectivity.NewMonitor(cfg.Remote, q, probe, cfg.ProbeInterval)
	q.SetReadyFunc(mon.IsOnline)

	return &Client{
		remote:     cfg.Remote,
		queue:      q,
		monitor:    mon,
		reconciler: rec,
	}, nil
}

// Run drives the connectivity monitor until ctx is cancelled. It blocks and
// is meant to run on its own goroutine.
func (c *Client) Run(ctx context.Context) {
	c.monitor.Run(ctx)
}

// Shutdown attempts one final replay of pending actions while the store is
// still reachable. Replay failures are not errors; unsynced actions stay
// persisted for the next start.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.monitor.IsOnline() && c.queue.Len() > 0 {
		_ = c.queue.ReplayAll(ctx)
	}
	return nil
}

// Reconciler exposes the optimistic reconciler for entity mutations.
func (c *Client) Reconciler() *reconcile.Reconciler {
	return c.reconciler
}

// QueueOfflineAction appends a mutation for deferred replay.
func (c *Client) QueueOfflineAction(action types.QueuedAction) (types.QueuedAction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return types.QueuedAction{}, errors.New("client is closed")
	}
	return c.queue.Enqueue(action)
}

// SyncPendingActions replays the queue now. A no-op while offline.
func (c *Client) SyncPendingActions(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errors.New("client is closed")
	}
	return c.queue.ReplayAll(ctx)
}

// ClearPendingActions discards all queued actions.
func (c *Client) ClearPendingActions() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errors.New("client is closed")
	}
	return c.queue.Clear()
}

// PendingActions returns a copy of the queued actions in replay order.
func (c *Client) PendingActions() []types.QueuedAction {
	return c.queue.Pending()
}

// IsOnline reports the platform network signal.
func (c *Client) IsOnline() bool {
	return c.monitor.IsOnline()
}

// IsConnected reports remote store reachability.
func (c *Client) IsConnected() bool {
	return c.monitor.IsConnected()
}

// SetOnline feeds the platform online/offline signal into the monitor.
// An offline to online transition triggers queue replay.
func (c *Client) SetOnline(online bool) {
	c.monitor.SetOnline(online)
}

// EnableOfflineMode forces the remote store into disconnected mode.
func (c *Client) EnableOfflineMode(ctx context.Context) {
	c.monitor.EnableOfflineMode(ctx)
}

// DisableOfflineMode re-enables the remote store's network layer.
func (c *Client) DisableOfflineMode(ctx context.Context) {
	c.monitor.DisableOfflineMode(ctx)
}

// Status returns the UI-facing view of the sync subsystem.
func (c *Client) Status() types.SyncStatus {
	return types.SyncStatus{
		ConnectivityState: types.ConnectivityState{
			IsOnline:    c.monitor.IsOnline(),
			IsConnected: c.monitor.IsConnected(),
		},
		PendingActions: c.queue.Len(),
	}
}
