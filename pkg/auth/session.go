// Package auth implements the three-step Mi account login handshake and the
// durable session artifact it produces.
package auth

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
)

// Session is the durable authentication artifact of a successful login.
// Callers persist it through Serialize and hand it back through
// ParseSession; the fields are read-only during calls and replaced as a
// whole by a completed login or restore.
type Session struct {
	// UserID identifies the account.
	UserID string `json:"userId"`

	// ServiceToken is the opaque bearer token issued by the final login
	// step.
	ServiceToken string `json:"serviceToken"`

	// SecurityKey is the base64-encoded long-lived shared secret used to
	// derive per-call keys.
	SecurityKey string `json:"ssecurity"`

	// AgentID is the 16-character lowercase device identity generated once
	// per login attempt and stable until re-login.
	AgentID string `json:"agentId"`
}

// Valid reports whether all four fields are present. Partial sessions are
// treated as unusable.
func (s *Session) Valid() bool {
	return s != nil &&
		s.UserID != "" &&
		s.ServiceToken != "" &&
		s.SecurityKey != "" &&
		s.AgentID != ""
}

// Serialize renders the session as an opaque string for external
// persistence. The format is not part of the API; only ParseSession
// understands it.
func (s *Session) Serialize() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("auth: serializing session: %w", err)
	}
	return string(raw), nil
}

// ParseSession parses a string produced by Serialize. Malformed input and
// partial sessions return ErrBadSession.
func ParseSession(serialized string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(serialized), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSession, err)
	}
	if !s.Valid() {
		return nil, fmt.Errorf("%w: missing fields", ErrBadSession)
	}
	return &s, nil
}

// agentIDLen is the length of the device identity string.
const agentIDLen = 16

// NewAgentID returns a fresh random device identity: 16 lowercase letters.
func NewAgentID() (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	buf := make([]byte, agentIDLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: reading agent id randomness: %w", err)
	}
	for i, b := range buf {
		buf[i] = letters[int(b)%len(letters)]
	}
	return string(buf), nil
}
