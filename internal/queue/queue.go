// Package queue implements the durable offline mutation queue: mutations that
// could not be applied immediately are held locally and replayed in enqueue
// order once connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hearthapp/hearth/internal/localstore"
	"github.com/hearthapp/hearth/internal/remote"
	"github.com/hearthapp/hearth/internal/types"
)

const (
	// DefaultMaxRetries is the replay attempt cap per action.
	DefaultMaxRetries = 3

	// DefaultStorageKey is the fixed key the serialized queue lives under.
	DefaultStorageKey = "hearth_offline_queue"
)

var (
	// ErrMissingDocumentID is returned when an update or delete action is
	// enqueued without a target document. This is a programming error and is
	// surfaced immediately rather than queued.
	ErrMissingDocumentID = errors.New("document ID required")

	// ErrUnknownKind is returned for an action kind outside the supported union.
	ErrUnknownKind = errors.New("unknown action kind")
)

// Executor is the subset of the remote store the queue replays against.
type Executor interface {
	Create(ctx context.Context, collection string, data types.Document) (string, error)
	Update(ctx context.Context, collection, id string, patch types.Document) error
	Delete(ctx context.Context, collection, id string) error
}

// DropHandler observes actions removed without succeeding: retry exhaustion
// or a permanent payload rejection. Silent data loss by design; the handler
// is the observability hook, not an error path.
type DropHandler func(action types.QueuedAction, err error)

// ReplayHandler observes actions replayed successfully against the remote.
// For a create, the action's DocumentID carries the server-assigned ID.
type ReplayHandler func(action types.QueuedAction)

// Queue is the process-wide mutation queue. All operations serialize against
// a single mutex, so no two replay cycles run concurrently and an action can
// never be applied twice by overlapping replays.
type Queue struct {
	storage    localstore.Storage
	exec       Executor
	key        string
	maxRetries int

	mu       sync.Mutex
	actions  []types.QueuedAction
	ready    func() bool
	onDrop   DropHandler
	onReplay ReplayHandler
}

// New creates a Queue and hydrates it from storage. Corrupted or unparseable
// persisted content is discarded and treated as an empty queue; hydration
// never fails startup.
func New(storage localstore.Storage, exec Executor, maxRetries int) (*Queue, error) {
	return NewWithKey(storage, exec, maxRetries, DefaultStorageKey)
}

// NewWithKey is New with an explicit storage key.
func NewWithKey(storage localstore.Storage, exec Executor, maxRetries int, key string) (*Queue, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if key == "" {
		key = DefaultStorageKey
	}
	q := &Queue{
		storage:    storage,
		exec:       exec,
		key:        key,
		maxRetries: maxRetries,
	}

	raw, ok, err := storage.Get(q.key)
	if err != nil {
		return nil, fmt.Errorf("hydrate queue: %w", err)
	}
	if ok {
		if err := json.Unmarshal(raw, &q.actions); err != nil {
			slog.Warn("discarding corrupted offline queue",
				"error", err,
				"component", "queue",
			)
			q.actions = nil
			// Best-effort removal; a failed delete just leaves the same
			// blob to be discarded again next startup.
			_ = storage.Delete(q.key)
		}
	}

	return q, nil
}

// SetReadyFunc installs a gate consulted before replay. When it reports
// false (offline), ReplayAll is a no-op with no adapter calls.
func (q *Queue) SetReadyFunc(fn func() bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = fn
}

// SetDropHandler installs the observability hook for dropped actions.
func (q *Queue) SetDropHandler(fn DropHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDrop = fn
}

// SetReplayHandler installs the hook for successfully replayed actions, so a
// consumer tracking optimistic state can resolve it once the deferred write
// lands.
func (q *Queue) SetReplayHandler(fn ReplayHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onReplay = fn
}

// Enqueue validates and appends an action, persisting the queue before
// returning. Missing ID, timestamp and retry count are filled in.
func (q *Queue) Enqueue(action types.QueuedAction) (types.QueuedAction, error) {
	switch action.Kind {
	case types.ActionCreate:
	case types.ActionUpdate, types.ActionDelete:
		if action.DocumentID == "" {
			return types.QueuedAction{}, fmt.Errorf("%w for %s on %s", ErrMissingDocumentID, action.Kind, action.Collection)
		}
	default:
		return types.QueuedAction{}, fmt.Errorf("%w: %q", ErrUnknownKind, action.Kind)
	}
	if action.Collection == "" {
		return types.QueuedAction{}, errors.New("collection is required")
	}

	if action.ID == "" {
		action.ID = ulid.Make().String()
	}
	if action.EnqueuedAt.IsZero() {
		action.EnqueuedAt = time.Now().UTC()
	}
	action.RetryCount = 0

	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = append(q.actions, action)
	if err := q.persistLocked(); err != nil {
		// Roll back the append so memory and disk stay consistent.
		q.actions = q.actions[:len(q.actions)-1]
		return types.QueuedAction{}, err
	}

	slog.Debug("action queued",
		"action_id", action.ID,
		"kind", string(action.Kind),
		"collection", action.Collection,
		"pending", len(q.actions),
		"component", "queue",
	)
	return action, nil
}

// ReplayAll replays queued actions strictly in enqueue order. Successful
// actions are removed; failed actions have their retry count incremented and
// are dropped once it reaches the cap. Replaying an empty queue, or replaying
// while the gate reports not ready, is a no-op.
//
// Replay never reorders: enqueue order is the sole ordering authority, so an
// update that depends on an earlier create executes after it. Each remote
// call is awaited before the next begins.
func (q *Queue) ReplayAll(ctx context.Context) error {
	q.mu.Lock()
	onReplay, onDrop := q.onReplay, q.onDrop

	if (q.ready != nil && !q.ready()) || len(q.actions) == 0 {
		q.mu.Unlock()
		return nil
	}

	var (
		replayed []types.QueuedAction
		dropped  []droppedAction
		cycleErr error
	)

	// The queue is persisted after every mutation so a crash mid-cycle never
	// replays an already-applied action on the next startup.
	idx := 0
	for idx < len(q.actions) {
		if ctx.Err() != nil {
			// Shutdown mid-cycle: everything not yet attempted stays queued.
			break
		}
		action := q.actions[idx]

		createdID, err := q.execute(ctx, action)
		if err == nil {
			if action.Kind == types.ActionCreate && action.DocumentID == "" {
				action.DocumentID = createdID
			}
			slog.Debug("action replayed",
				"action_id", action.ID,
				"kind", string(action.Kind),
				"collection", action.Collection,
				"component", "queue",
			)
			q.removeAtLocked(idx)
			replayed = append(replayed, action)
			continue
		}

		if errors.Is(err, remote.ErrInvalidPayload) {
			// Permanent rejection: retrying cannot succeed.
			q.removeAtLocked(idx)
			dropped = append(dropped, droppedAction{action, err})
			continue
		}

		action.RetryCount++
		if action.RetryCount >= q.maxRetries {
			q.removeAtLocked(idx)
			dropped = append(dropped, droppedAction{action, err})
			continue
		}

		slog.Warn("action replay failed, will retry",
			"action_id", action.ID,
			"kind", string(action.Kind),
			"collection", action.Collection,
			"retry_count", action.RetryCount,
			"error", err,
			"component", "queue",
		)
		q.actions[idx] = action
		if err := q.persistLocked(); err != nil {
			cycleErr = err
			break
		}
		idx++
	}

	if cycleErr == nil {
		cycleErr = q.persistLocked()
	}
	q.mu.Unlock()

	// Hooks run outside the queue lock: a handler may take per-entity locks
	// whose holders can be blocked enqueueing against this queue.
	for _, action := range replayed {
		if onReplay != nil {
			onReplay(action)
		}
	}
	for _, d := range dropped {
		q.reportDrop(d.action, d.err)
		if onDrop != nil {
			onDrop(d.action, d.err)
		}
	}
	return cycleErr
}

type droppedAction struct {
	action types.QueuedAction
	err    error
}

// removeAtLocked removes the action at i and persists. Callers hold q.mu.
func (q *Queue) removeAtLocked(i int) {
	q.actions = append(q.actions[:i], q.actions[i+1:]...)
	if err := q.persistLocked(); err != nil {
		slog.Error("failed to persist queue after removal",
			"error", err,
			"component", "queue",
		)
	}
}

// Clear empties the queue and its persisted backing store. Used for explicit
// user-initiated reset, not normal operation.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = nil
	if err := q.storage.Delete(q.key); err != nil {
		return fmt.Errorf("clear queue storage: %w", err)
	}
	return nil
}

// Pending returns a copy of the queued actions in enqueue order.
func (q *Queue) Pending() []types.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.QueuedAction, len(q.actions))
	copy(out, q.actions)
	return out
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// execute runs one action against the remote. The returned string is the
// server-assigned ID for creates, empty otherwise.
func (q *Queue) execute(ctx context.Context, action types.QueuedAction) (string, error) {
	switch action.Kind {
	case types.ActionCreate:
		return q.exec.Create(ctx, action.Collection, action.Payload)
	case types.ActionUpdate:
		if action.DocumentID == "" {
			return "", ErrMissingDocumentID
		}
		return "", q.exec.Update(ctx, action.Collection, action.DocumentID, action.Payload)
	case types.ActionDelete:
		if action.DocumentID == "" {
			return "", ErrMissingDocumentID
		}
		return "", q.exec.Delete(ctx, action.Collection, action.DocumentID)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, action.Kind)
	}
}

// reportDrop logs an action removed without success. Reported, never thrown.
func (q *Queue) reportDrop(action types.QueuedAction, err error) {
	slog.Error("action dropped",
		"action_id", action.ID,
		"kind", string(action.Kind),
		"collection", action.Collection,
		"retry_count", action.RetryCount,
		"error", err,
		"component", "queue",
	)
}

// persistLocked writes the whole queue as one JSON blob under the fixed key.
// Callers hold q.mu.
func (q *Queue) persistLocked() error {
	raw, err := json.Marshal(q.actions)
	if err != nil {
		return fmt.Errorf("serialize queue: %w", err)
	}
	if err := q.storage.Set(q.key, raw); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}
