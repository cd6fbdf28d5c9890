package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// NonceRandomLen is the number of random bytes at the front of a nonce.
const NonceRandomLen = 8

// GenerateNonce returns a fresh single-use nonce, base64-encoded for
// transport: 8 random bytes followed by the minutes-since-Unix-epoch
// counter in minimal-width big-endian form.
//
// The counter's byte width grows with calendar time. It is re-derived from
// the counter's magnitude on every call and must never be assumed fixed.
func GenerateNonce(now time.Time) (string, error) {
	buf := make([]byte, NonceRandomLen, NonceRandomLen+8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: reading nonce randomness: %w", err)
	}
	buf = append(buf, encodeMinutes(now.Unix()/60)...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// encodeMinutes encodes a minute counter as big-endian bytes with no
// leading zero bytes.
func encodeMinutes(minutes int64) []byte {
	if minutes <= 0 {
		return []byte{0}
	}
	var out []byte
	for v := minutes; v > 0; v >>= 8 {
		out = append([]byte{byte(v)}, out...)
	}
	return out
}

// NonceMinutes extracts the minute counter from a base64-encoded nonce.
func NonceMinutes(nonce string) (int64, error) {
	raw, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return 0, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	if len(raw) <= NonceRandomLen {
		return 0, fmt.Errorf("crypto: nonce too short (%d bytes)", len(raw))
	}
	var v int64
	for _, b := range raw[NonceRandomLen:] {
		v = v<<8 | int64(b)
	}
	return v, nil
}
