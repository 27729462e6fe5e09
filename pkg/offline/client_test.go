package offline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hearthapp/hearth/internal/localstore"
	"github.com/hearthapp/hearth/internal/remote"
	"github.com/hearthapp/hearth/internal/types"
)

// stubStore is a minimal remote.Store that records writes and can simulate
// an unreachable backend.
type stubStore struct {
	mu       sync.Mutex
	creates  []types.Document
	offline  bool
	created  chan struct{}
	disabled bool
}

func newStubStore() *stubStore {
	return &stubStore{created: make(chan struct{}, 16)}
}

func (s *stubStore) setOffline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = v
}

func (s *stubStore) Create(_ context.Context, _ string, doc types.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return "", remote.ErrUnavailable
	}
	s.creates = append(s.creates, doc.Clone())
	select {
	case s.created <- struct{}{}:
	default:
	}
	return "srv-1", nil
}

func (s *stubStore) Update(context.Context, string, string, types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return remote.ErrUnavailable
	}
	return nil
}

func (s *stubStore) Delete(context.Context, string, string) error { return nil }

func (s *stubStore) Get(context.Context, string, string) (types.Document, error) {
	return nil, remote.ErrNotFound
}

func (s *stubStore) Query(context.Context, string, remote.QueryOptions) ([]types.Document, error) {
	return nil, nil
}

func (s *stubStore) EnableNetwork(context.Context) error { return nil }

func (s *stubStore) DisableNetwork(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = true
	return nil
}

func (s *stubStore) CheckHealth(context.Context) error { return nil }

func (s *stubStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creates)
}

func newTestClient(t *testing.T, store *stubStore) *Client {
	t.Helper()
	c, err := New(Config{
		Storage: localstore.NewMemory(),
		Remote:  store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Remote: newStubStore()}); err == nil {
		t.Error("New without Storage should fail")
	}
	if _, err := New(Config{Storage: localstore.NewMemory()}); err == nil {
		t.Error("New without Remote should fail")
	}
}

func TestQueueAndStatus(t *testing.T) {
	c := newTestClient(t, newStubStore())

	_, err := c.QueueOfflineAction(types.QueuedAction{
		Kind:       types.ActionCreate,
		Collection: "tasks",
		Payload:    types.Document{"title": "Dishes"},
	})
	if err != nil {
		t.Fatalf("QueueOfflineAction: %v", err)
	}

	status := c.Status()
	if status.PendingActions != 1 {
		t.Errorf("PendingActions = %d, want 1", status.PendingActions)
	}
	if !status.IsOnline || !status.IsConnected {
		t.Errorf("status = %+v, want online and connected", status.ConnectivityState)
	}

	actions := c.PendingActions()
	if len(actions) != 1 || actions[0].Collection != "tasks" {
		t.Errorf("PendingActions = %+v", actions)
	}
}

func TestSyncPendingActionsDrains(t *testing.T) {
	store := newStubStore()
	c := newTestClient(t, store)

	if _, err := c.QueueOfflineAction(types.QueuedAction{
		Kind:       types.ActionCreate,
		Collection: "tasks",
		Payload:    types.Document{"title": "Dishes"},
	}); err != nil {
		t.Fatalf("QueueOfflineAction: %v", err)
	}

	if err := c.SyncPendingActions(context.Background()); err != nil {
		t.Fatalf("SyncPendingActions: %v", err)
	}
	if got := c.Status().PendingActions; got != 0 {
		t.Errorf("PendingActions after sync = %d, want 0", got)
	}
	if store.createCount() != 1 {
		t.Errorf("remote creates = %d, want 1", store.createCount())
	}
}

func TestOfflineToOnlineReplays(t *testing.T) {
	store := newStubStore()
	c := newTestClient(t, store)

	c.SetOnline(false)
	if c.IsOnline() {
		t.Fatal("expected offline after SetOnline(false)")
	}

	if _, err := c.QueueOfflineAction(types.QueuedAction{
		Kind:       types.ActionCreate,
		Collection: "tasks",
		Payload:    types.Document{"title": "Dishes"},
	}); err != nil {
		t.Fatalf("QueueOfflineAction: %v", err)
	}

	// Replay while offline is a no-op.
	if err := c.SyncPendingActions(context.Background()); err != nil {
		t.Fatalf("SyncPendingActions: %v", err)
	}
	if got := c.Status().PendingActions; got != 1 {
		t.Fatalf("PendingActions while offline = %d, want 1", got)
	}

	c.SetOnline(true)
	select {
	case <-store.created:
	case <-time.After(2 * time.Second):
		t.Fatal("recovery did not replay the queue")
	}
}

func TestOfflineModeDisablesNetwork(t *testing.T) {
	store := newStubStore()
	c := newTestClient(t, store)

	c.EnableOfflineMode(context.Background())
	if c.IsConnected() {
		t.Error("expected disconnected in offline mode")
	}
	store.mu.Lock()
	disabled := store.disabled
	store.mu.Unlock()
	if !disabled {
		t.Error("DisableNetwork was not called")
	}

	c.DisableOfflineMode(context.Background())
	if !c.IsConnected() {
		t.Error("expected connected after leaving offline mode")
	}
}

func TestClearPendingActions(t *testing.T) {
	c := newTestClient(t, newStubStore())

	if _, err := c.QueueOfflineAction(types.QueuedAction{
		Kind:       types.ActionDelete,
		Collection: "tasks",
		DocumentID: "t1",
	}); err != nil {
		t.Fatalf("QueueOfflineAction: %v", err)
	}
	if err := c.ClearPendingActions(); err != nil {
		t.Fatalf("ClearPendingActions: %v", err)
	}
	if got := c.Status().PendingActions; got != 0 {
		t.Errorf("PendingActions = %d, want 0", got)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := newTestClient(t, newStubStore())

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if _, err := c.QueueOfflineAction(types.QueuedAction{
		Kind:       types.ActionDelete,
		Collection: "tasks",
		DocumentID: "t1",
	}); err == nil {
		t.Error("QueueOfflineAction after Shutdown should fail")
	}
}
