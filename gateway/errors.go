package gateway

import "errors"

// Typed errors for the gateway layer. They let callers decide between retrying
// (network), surfacing to the user (gateway-rejected) and aborting (validation)
// without depending on provider SDK error types.
var (
	// ErrValidation indicates a malformed amount or identifier. This class is
	// a programming error and is never retried.
	ErrValidation = errors.New("validation error")
	// ErrGateway indicates the provider accepted the request and rejected it
	// (declined card, insufficient funds, bad configuration).
	ErrGateway = errors.New("gateway error")
	// ErrNetwork indicates a transport failure (timeout, connection reset);
	// safe to retry.
	ErrNetwork = errors.New("network error")
	// ErrNotFound indicates the referenced object does not exist on the
	// provider side.
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether the failure is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
