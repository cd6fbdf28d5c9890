package auth

import (
	"errors"
	"fmt"
)

// Package-level sentinel errors for the login handshake.
var (
	// ErrAuthFailed indicates bad credentials or a malformed handshake.
	ErrAuthFailed = errors.New("auth: authentication failed")

	// ErrChallengeRequired indicates the account requires interactive
	// verification (a second factor) that this client cannot complete
	// unattended. Never retried automatically.
	ErrChallengeRequired = errors.New("auth: interactive verification required")

	// ErrBadSession indicates a serialized session that is malformed or
	// missing fields.
	ErrBadSession = errors.New("auth: invalid session")
)

// ChallengeError carries the verification URL the account holder must visit
// to complete login. It matches ErrChallengeRequired under errors.Is.
type ChallengeError struct {
	URL string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("auth: interactive verification required at %s", e.URL)
}

func (e *ChallengeError) Is(target error) bool {
	return target == ErrChallengeRequired
}
