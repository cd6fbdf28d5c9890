// Package crypto implements the cryptographic primitives of the Mi Home
// cloud protocol: the login password digest, the request signature digest,
// per-call nonces, signed-nonce derivation, and the RC4 payload stream
// cipher with its mandatory keystream discard.
package crypto

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// MD5Hex computes the MD5 digest of data as an uppercase fixed-width hex
// string. The credential-exchange step of the login handshake sends the
// account password in this form.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SHA1Base64 computes the base64-encoded SHA-1 digest of msg.
// Request signatures use this digest directly (plain SHA-1, not an HMAC).
func SHA1Base64(msg []byte) string {
	sum := sha1.Sum(msg)
	return base64.StdEncoding.EncodeToString(sum[:])
}
