package cloud

import "errors"

// Package-level sentinel errors for encrypted RPC calls.
var (
	// ErrNotAuthenticated is returned when a call is attempted without an
	// established session.
	ErrNotAuthenticated = errors.New("cloud: not authenticated")

	// ErrSessionExpired is returned when the server rejects a previously
	// valid bearer token. The caller is expected to log in again; the
	// client never re-authenticates on its own.
	ErrSessionExpired = errors.New("cloud: session expired")

	// ErrTransport is returned for retryable transport failures
	// (connection reset, malformed response body).
	ErrTransport = errors.New("cloud: transport failure")

	// ErrTransportTimeout is returned when a request exceeds its deadline.
	// Retryable.
	ErrTransportTimeout = errors.New("cloud: request timed out")

	// ErrProtocol is returned for decryption or signature mismatches.
	// A corrupted derivation does not self-heal, so this is never retried.
	ErrProtocol = errors.New("cloud: protocol mismatch")
)

// retryable reports whether err is a transport-level failure worth another
// attempt. Everything else propagates immediately.
func retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTransportTimeout)
}
