package reconcile

// State is the synchronization state of a single entity.
//
// Clean entities match the last server-confirmed snapshot. A mutation moves
// the entity to OptimisticPending while the remote write is in flight, then
// resolves to exactly one of Confirmed, Conflicted or Queued.
type State string

const (
	// StateClean means local state matches the last known server state.
	StateClean State = "clean"

	// StateOptimisticPending means a mutation has been applied locally and
	// its remote write is still in flight.
	StateOptimisticPending State = "optimistic_pending"

	// StateConfirmed means the last mutation was accepted and local state
	// holds the server-confirmed record.
	StateConfirmed State = "confirmed"

	// StateConflicted means the last mutation was rejected on a version
	// mismatch; local state holds the refetched authoritative record.
	StateConflicted State = "conflicted"

	// StateQueued means the last mutation could not reach the server and
	// waits in the mutation queue; local state keeps the optimistic value.
	StateQueued State = "queued"
)
