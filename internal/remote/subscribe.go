package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hearthapp/hearth/internal/types"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("snapshot stream closed")

// Snapshots is a lazy, restartable sequence of collection snapshots.
//
// Each call to Next blocks until the next polling interval elapses (the first
// call queries immediately) and returns the full matching document set.
// Cancellation is explicit: the caller's context or Close, not an ambient
// unsubscribe closure. A transient query failure is returned from Next and the
// stream remains usable; the next call polls again.
type Snapshots struct {
	store      Store
	collection string
	opts       QueryOptions
	interval   time.Duration

	mu      sync.Mutex
	started bool
	last    time.Time
	closed  chan struct{}
	once    sync.Once
}

func newSnapshots(store Store, collection string, opts QueryOptions, interval time.Duration) *Snapshots {
	return &Snapshots{
		store:      store,
		collection: collection,
		opts:       opts,
		interval:   interval,
		closed:     make(chan struct{}),
	}
}

// Next returns the next snapshot of the subscribed collection.
func (s *Snapshots) Next(ctx context.Context) ([]types.Document, error) {
	s.mu.Lock()
	wait := time.Duration(0)
	if s.started {
		elapsed := time.Since(s.last)
		if elapsed < s.interval {
			wait = s.interval - elapsed
		}
	}
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, ErrStreamClosed
		case <-timer.C:
		}
	} else {
		select {
		case <-s.closed:
			return nil, ErrStreamClosed
		default:
		}
	}

	docs, err := s.store.Query(ctx, s.collection, s.opts)

	s.mu.Lock()
	s.started = true
	s.last = time.Now()
	s.mu.Unlock()

	return docs, err
}

// Close terminates the stream. Subsequent Next calls return ErrStreamClosed.
// Close is idempotent.
func (s *Snapshots) Close() {
	s.once.Do(func() { close(s.closed) })
}
