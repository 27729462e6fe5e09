package remote

import "errors"

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict indicates a version mismatch: the document changed on the
	// server after the client observed it.
	ErrConflict = errors.New("document version conflict")

	// ErrUnavailable indicates a transient transport or server failure.
	// Callers may queue the operation for later replay.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrInvalidPayload indicates the server rejected the payload permanently.
	// The operation must not be retried.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNetworkDisabled indicates the adapter's network layer has been
	// explicitly disabled via DisableNetwork.
	ErrNetworkDisabled = errors.New("network disabled")
)

// IsUnavailable reports whether err represents a transient condition a caller
// should queue and retry: the store unreachable or the network layer disabled.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNetworkDisabled)
}
