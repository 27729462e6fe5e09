// Package reconcile keeps optimistic local state consistent with the remote
// document store: mutations apply locally first, the authoritative write runs
// in flight, and the outcome (confirmation, conflict, queueing) is reconciled
// back into the local view.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/hearthapp/hearth/internal/remote"
	"github.com/hearthapp/hearth/internal/types"
)

// Enqueuer is the mutation-queue surface the reconciler routes transient
// failures into.
type Enqueuer interface {
	Enqueue(action types.QueuedAction) (types.QueuedAction, error)
}

// Result is the typed outcome of a mutation. State is always one of
// Confirmed, Conflicted or Queued; Document carries the server-confirmed
// record, the refetched authoritative record on conflict, or the retained
// optimistic record when queued.
type Result struct {
	State    State
	Document types.Document
}

type entity struct {
	// mu serializes mutations per entity: a second mutation submitted before
	// the first resolves waits here.
	mu        sync.Mutex
	state     State
	confirmed types.Document
	local     types.Document
}

// Reconciler is the optimistic synchronization layer over one remote store
// and one mutation queue.
type Reconciler struct {
	remote remote.Store
	queue  Enqueuer

	mu       sync.Mutex
	entities map[string]*entity
}

// New creates a Reconciler. Wire its HandleDrop onto the queue's drop hook so
// exhausted actions roll local state back to the last known server state.
func New(store remote.Store, q Enqueuer) *Reconciler {
	return &Reconciler{
		remote:   store,
		queue:    q,
		entities: make(map[string]*entity),
	}
}

// Create applies an optimistic insert and attempts the remote write.
//
// Offline creates keep a client-generated provisional ID until the queued
// action eventually succeeds or is dropped.
func (r *Reconciler) Create(ctx context.Context, collection string, data types.Document) (Result, error) {
	data = data.Clone()
	provisional := ulid.Make().String()
	if data.ID() == "" {
		data["id"] = provisional
	} else {
		provisional = data.ID()
	}
	if data.Version() == 0 {
		data["version"] = int64(1)
	}

	ent := r.entity(collection, provisional)
	ent.mu.Lock()
	defer ent.mu.Unlock()

	// Optimistic: visible locally before the write resolves.
	ent.local = data
	ent.state = StateOptimisticPending

	id, err := r.remote.Create(ctx, collection, data)
	switch {
	case err == nil:
		confirmed := r.refetch(ctx, collection, id, data)
		r.rekey(collection, provisional, id)
		ent.confirmed = confirmed
		ent.local = confirmed
		ent.state = StateConfirmed
		return Result{State: StateConfirmed, Document: confirmed.Clone()}, nil

	case remote.IsUnavailable(err):
		if qerr := r.enqueue(ent, types.QueuedAction{
			Kind:       types.ActionCreate,
			Collection: collection,
			Payload:    data,
		}); qerr != nil {
			return Result{}, qerr
		}
		return Result{State: StateQueued, Document: ent.local.Clone()}, nil

	default:
		// Permanent failure: discard the optimistic insert.
		ent.local = nil
		ent.state = StateClean
		return Result{}, fmt.Errorf("create in %s: %w", collection, err)
	}
}

// Update applies an optimistic patch and attempts the remote write. The patch
// must carry the version the caller observed ("version" field); on a version
// mismatch the optimistic change is discarded, the authoritative record is
// refetched, and a Conflicted result is returned: a stale optimistic value
// never overwrites a newer server value.
func (r *Reconciler) Update(ctx context.Context, collection, id string, patch types.Document) (Result, error) {
	if id == "" {
		return Result{}, errors.New("document ID required for update")
	}

	ent := r.entity(collection, id)
	ent.mu.Lock()
	defer ent.mu.Unlock()

	prevLocal := ent.local
	patch = patch.Clone()
	if patch.Version() == 0 && prevLocal != nil {
		patch["version"] = prevLocal.Version()
	}

	// Optimistic: merge the patch into the local view.
	merged := prevLocal.Clone()
	if merged == nil {
		merged = types.Document{"id": id}
	}
	for k, v := range patch {
		merged[k] = v
	}
	ent.local = merged
	ent.state = StateOptimisticPending

	err := r.remote.Update(ctx, collection, id, patch)
	switch {
	case err == nil:
		confirmed := r.refetch(ctx, collection, id, bumpVersion(merged))
		ent.confirmed = confirmed
		ent.local = confirmed
		ent.state = StateConfirmed
		return Result{State: StateConfirmed, Document: confirmed.Clone()}, nil

	case errors.Is(err, remote.ErrConflict):
		// Concurrent edit won: drop the optimistic change and surface the
		// authoritative record to the caller.
		authoritative, gErr := r.remote.Get(ctx, collection, id)
		if gErr != nil {
			slog.Warn("refetch after conflict failed",
				"collection", collection,
				"document_id", id,
				"error", gErr,
				"component", "reconcile",
			)
			authoritative = ent.confirmed
		}
		ent.confirmed = authoritative
		ent.local = authoritative
		ent.state = StateConflicted
		return Result{State: StateConflicted, Document: authoritative.Clone()}, nil

	case remote.IsUnavailable(err):
		if qerr := r.enqueue(ent, types.QueuedAction{
			Kind:       types.ActionUpdate,
			Collection: collection,
			DocumentID: id,
			Payload:    patch,
		}); qerr != nil {
			ent.local = prevLocal
			ent.state = StateClean
			return Result{}, qerr
		}
		return Result{State: StateQueued, Document: ent.local.Clone()}, nil

	default:
		ent.local = prevLocal
		ent.state = StateClean
		return Result{}, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
}

// Delete applies an optimistic removal and attempts the remote write.
func (r *Reconciler) Delete(ctx context.Context, collection, id string) (Result, error) {
	if id == "" {
		return Result{}, errors.New("document ID required for delete")
	}

	ent := r.entity(collection, id)
	ent.mu.Lock()
	defer ent.mu.Unlock()

	prevLocal := ent.local
	ent.local = nil
	ent.state = StateOptimisticPending

	err := r.remote.Delete(ctx, collection, id)
	switch {
	case err == nil, errors.Is(err, remote.ErrNotFound):
		ent.confirmed = nil
		ent.state = StateConfirmed
		r.forget(collection, id)
		return Result{State: StateConfirmed}, nil

	case remote.IsUnavailable(err):
		if qerr := r.enqueue(ent, types.QueuedAction{
			Kind:       types.ActionDelete,
			Collection: collection,
			DocumentID: id,
		}); qerr != nil {
			ent.local = prevLocal
			ent.state = StateClean
			return Result{}, qerr
		}
		return Result{State: StateQueued}, nil

	default:
		ent.local = prevLocal
		ent.state = StateClean
		return Result{}, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
}

// Local returns the current local view of a document and whether one exists.
func (r *Reconciler) Local(collection, id string) (types.Document, bool) {
	r.mu.Lock()
	ent, ok := r.entities[key(collection, id)]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.local == nil {
		return nil, false
	}
	return ent.local.Clone(), true
}

// StateOf returns the synchronization state of a document. Unknown documents
// are Clean.
func (r *Reconciler) StateOf(collection, id string) State {
	r.mu.Lock()
	ent, ok := r.entities[key(collection, id)]
	r.mu.Unlock()
	if !ok {
		return StateClean
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.state
}

// ApplySnapshot folds a server snapshot (from a subscription stream) into the
// local cache. Entities with an unresolved optimistic mutation keep their
// local value; everything else adopts the server record.
func (r *Reconciler) ApplySnapshot(collection string, docs []types.Document) {
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			continue
		}
		ent := r.entity(collection, id)
		ent.mu.Lock()
		ent.confirmed = doc.Clone()
		if ent.state != StateOptimisticPending && ent.state != StateQueued {
			ent.local = doc.Clone()
			ent.state = StateClean
		}
		ent.mu.Unlock()
	}
}

// HandleDrop rolls an entity back to the last known server state after its
// queued action was dropped. Wire this as the queue's drop handler.
func (r *Reconciler) HandleDrop(action types.QueuedAction, err error) {
	id := action.DocumentID
	if id == "" {
		id = action.Payload.ID()
	}
	if id == "" {
		return
	}

	r.mu.Lock()
	ent, ok := r.entities[key(action.Collection, id)]
	r.mu.Unlock()
	if !ok {
		return
	}

	ent.mu.Lock()
	ent.local = ent.confirmed.Clone()
	ent.state = StateClean
	ent.mu.Unlock()

	slog.Warn("optimistic state rolled back after drop",
		"collection", action.Collection,
		"document_id", id,
		"action_id", action.ID,
		"error", err,
		"component", "reconcile",
	)
}

// HandleReplayed resolves an entity's queued mutation after its deferred
// write landed: the server-confirmed record replaces the optimistic one and
// the entity returns to Clean, so later snapshots fold in normally. Wire this
// as the queue's replay handler.
func (r *Reconciler) HandleReplayed(action types.QueuedAction) {
	provisional := action.Payload.ID()
	id := action.DocumentID
	if id == "" {
		id = provisional
	}
	if id == "" {
		return
	}

	if action.Kind == types.ActionDelete {
		r.forget(action.Collection, id)
		return
	}

	// Queued creates are tracked under their provisional client ID until a
	// replay reports the server-assigned one.
	lookup := id
	if action.Kind == types.ActionCreate && provisional != "" {
		lookup = provisional
	}

	r.mu.Lock()
	ent, ok := r.entities[key(action.Collection, lookup)]
	r.mu.Unlock()
	if !ok {
		return
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.state != StateQueued {
		return
	}

	fallback := bumpVersion(ent.local)
	if action.Kind == types.ActionCreate {
		// A replayed create lands at the payload's own version.
		fallback = ent.local
	}
	confirmed := r.refetch(context.Background(), action.Collection, id, fallback)
	r.rekey(action.Collection, lookup, id)
	ent.confirmed = confirmed
	ent.local = confirmed
	ent.state = StateClean

	slog.Debug("queued mutation resolved",
		"collection", action.Collection,
		"document_id", id,
		"action_id", action.ID,
		"component", "reconcile",
	)
}

// refetch fetches the server-confirmed record after a successful write,
// falling back to the locally expected value when the read fails.
func (r *Reconciler) refetch(ctx context.Context, collection, id string, fallback types.Document) types.Document {
	doc, err := r.remote.Get(ctx, collection, id)
	if err != nil {
		slog.Debug("refetch after write failed, using expected value",
			"collection", collection,
			"document_id", id,
			"error", err,
			"component", "reconcile",
		)
		doc = fallback.Clone()
		doc["id"] = id
	}
	return doc
}

func (r *Reconciler) enqueue(ent *entity, action types.QueuedAction) error {
	if _, err := r.queue.Enqueue(action); err != nil {
		return fmt.Errorf("queue offline action: %w", err)
	}
	ent.state = StateQueued
	return nil
}

func (r *Reconciler) entity(collection, id string) *entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(collection, id)
	ent, ok := r.entities[k]
	if !ok {
		ent = &entity{state: StateClean}
		r.entities[k] = ent
	}
	return ent
}

// rekey moves an entity from its provisional create ID to the server ID.
// Callers hold the entity's own mutex.
func (r *Reconciler) rekey(collection, oldID, newID string) {
	if oldID == newID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ent, ok := r.entities[key(collection, oldID)]; ok {
		delete(r.entities, key(collection, oldID))
		r.entities[key(collection, newID)] = ent
	}
}

func (r *Reconciler) forget(collection, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities, key(collection, id))
}

func bumpVersion(doc types.Document) types.Document {
	out := doc.Clone()
	out["version"] = doc.Version() + 1
	return out
}

func key(collection, id string) string {
	return collection + "/" + id
}
