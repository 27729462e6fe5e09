package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// mockToggler records network enable/disable calls.
type mockToggler struct {
	mu       sync.Mutex
	enables  int
	disables int
	fail     error
}

func (m *mockToggler) EnableNetwork(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.enables++
	return nil
}

func (m *mockToggler) DisableNetwork(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.disables++
	return nil
}

func (m *mockToggler) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enables, m.disables
}

// mockReplayer counts replay cycles and signals each one.
type mockReplayer struct {
	mu       sync.Mutex
	pending  int
	replays  int
	replayed chan struct{}
}

func newMockReplayer(pending int) *mockReplayer {
	return &mockReplayer{pending: pending, replayed: make(chan struct{}, 16)}
}

func (m *mockReplayer) ReplayAll(context.Context) error {
	m.mu.Lock()
	m.replays++
	m.pending = 0
	m.mu.Unlock()
	select {
	case m.replayed <- struct{}{}:
	default:
	}
	return nil
}

func (m *mockReplayer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *mockReplayer) replayCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replays
}

func okProbe(context.Context) error   { return nil }
func downProbe(context.Context) error { return errors.New("unreachable") }

func waitReplay(t *testing.T, r *mockReplayer) {
	t.Helper()
	select {
	case <-r.replayed:
	case <-time.After(2 * time.Second):
		t.Fatal("replay was not triggered")
	}
}

func TestStartsOnlineAndConnected(t *testing.T) {
	m := NewMonitor(&mockToggler{}, newMockReplayer(0), okProbe, time.Minute)
	if !m.IsOnline() || !m.IsConnected() {
		t.Error("monitor must start online and connected")
	}
}

func TestRecoveryTriggersExactlyOneReplay(t *testing.T) {
	toggler := &mockToggler{}
	replayer := newMockReplayer(3)
	m := NewMonitor(toggler, replayer, okProbe, time.Minute)

	m.SetOnline(false)
	if m.IsOnline() {
		t.Fatal("expected offline")
	}

	m.SetOnline(true)
	waitReplay(t, replayer)

	if got := replayer.replayCount(); got != 1 {
		t.Errorf("replays = %d, want 1", got)
	}
	enables, _ := toggler.counts()
	if enables != 1 {
		t.Errorf("network enables = %d, want 1", enables)
	}

	// Repeating SetOnline(true) without an offline transition is a no-op.
	m.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	if got := replayer.replayCount(); got != 1 {
		t.Errorf("replays after redundant SetOnline = %d, want 1", got)
	}
}

func TestRecoveryWithEmptyQueueSkipsReplay(t *testing.T) {
	replayer := newMockReplayer(0)
	m := NewMonitor(&mockToggler{}, replayer, okProbe, time.Minute)

	m.SetOnline(false)
	m.SetOnline(true)
	time.Sleep(50 * time.Millisecond)

	if got := replayer.replayCount(); got != 0 {
		t.Errorf("replays = %d, want 0 for empty queue", got)
	}
}

func TestGoingOfflineTriggersNothing(t *testing.T) {
	toggler := &mockToggler{}
	replayer := newMockReplayer(2)
	m := NewMonitor(toggler, replayer, okProbe, time.Minute)

	m.SetOnline(false)
	time.Sleep(50 * time.Millisecond)

	if got := replayer.replayCount(); got != 0 {
		t.Errorf("replays = %d, want 0", got)
	}
}

func TestOfflineModeToggles(t *testing.T) {
	toggler := &mockToggler{}
	m := NewMonitor(toggler, newMockReplayer(0), okProbe, time.Minute)
	ctx := context.Background()

	m.EnableOfflineMode(ctx)
	if m.IsConnected() {
		t.Error("expected disconnected in offline mode")
	}
	_, disables := toggler.counts()
	if disables != 1 {
		t.Errorf("disables = %d, want 1", disables)
	}

	m.DisableOfflineMode(ctx)
	if !m.IsConnected() {
		t.Error("expected connected after leaving offline mode")
	}
	enables, _ := toggler.counts()
	if enables != 1 {
		t.Errorf("enables = %d, want 1", enables)
	}
}

func TestOfflineModeSwallowsToggleFailures(t *testing.T) {
	toggler := &mockToggler{fail: errors.New("sdk error")}
	m := NewMonitor(toggler, newMockReplayer(0), okProbe, time.Minute)

	// Failures are reported, never returned or panicked.
	m.EnableOfflineMode(context.Background())
	m.DisableOfflineMode(context.Background())
}

func TestRunProbeUpdatesConnected(t *testing.T) {
	m := NewMonitor(&mockToggler{}, newMockReplayer(0), downProbe, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for m.IsConnected() {
		select {
		case <-deadline:
			t.Fatal("probe never marked the store unreachable")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestProbeSkippedWhileOfflineModeForced(t *testing.T) {
	// A reachable endpoint must not flip isConnected back while offline mode
	// is forced.
	m := NewMonitor(&mockToggler{}, newMockReplayer(0), okProbe, 10*time.Millisecond)
	m.EnableOfflineMode(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if m.IsConnected() {
		t.Error("probe overrode forced offline mode")
	}
}

func TestHTTPProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer healthy.Close()

	if err := HTTPProbe(healthy.URL, nil)(context.Background()); err != nil {
		t.Errorf("probe against healthy server: %v", err)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	if err := HTTPProbe(failing.URL, nil)(context.Background()); err == nil {
		t.Error("probe against failing server should error")
	}

	if err := HTTPProbe("http://127.0.0.1:1", nil)(context.Background()); err == nil {
		t.Error("probe against closed port should error")
	}
}
