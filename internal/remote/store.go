package remote

import (
	"context"
	"time"

	"github.com/hearthapp/hearth/internal/types"
)

// Filter is a single equality predicate on a document field.
type Filter struct {
	Field string
	Value any
}

// QueryOptions shape a collection query.
type QueryOptions struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Store is the consumed interface over the remote document store.
//
// Errors are reported through the sentinel taxonomy in errors.go: callers
// branch on ErrConflict, ErrUnavailable and ErrInvalidPayload to decide
// between surfacing, queueing and dropping.
type Store interface {
	Create(ctx context.Context, collection string, data types.Document) (string, error)
	Update(ctx context.Context, collection, id string, patch types.Document) error
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string) (types.Document, error)
	Query(ctx context.Context, collection string, opts QueryOptions) ([]types.Document, error)

	// EnableNetwork and DisableNetwork toggle the adapter's network layer.
	// While disabled, every remote call fails with ErrNetworkDisabled
	// (treated as unavailable by callers).
	EnableNetwork(ctx context.Context) error
	DisableNetwork(ctx context.Context) error

	// CheckHealth performs a single reachability check against the store.
	CheckHealth(ctx context.Context) error
}

// Subscriber is implemented by stores that support snapshot subscriptions.
type Subscriber interface {
	Subscribe(collection string, opts QueryOptions, interval time.Duration) *Snapshots
}
