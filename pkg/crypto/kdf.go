package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// SignedNonce derives the ephemeral per-call key from the account's
// long-lived security key and a fresh nonce:
//
//	signedNonce = base64(SHA-256(b64dec(securityKey) || b64dec(nonce)))
//
// The result keys the payload stream cipher and feeds the request
// signature. It is never persisted: because the nonce travels with the
// request, the same key can be re-derived to decrypt the response without
// retaining any call-local state beyond the nonce that was sent.
func SignedNonce(securityKey, nonce string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(securityKey)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding security key: %w", err)
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	h := sha256.New()
	h.Write(key)
	h.Write(n)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
