// Package cloud implements the encrypted RPC layer of the Mi Home cloud
// protocol: order-sensitive request signing, payload encryption under a
// per-call key, and the transport loop with its retry and session-expiry
// handling.
package cloud

import (
	"fmt"
	"strings"

	"github.com/miohome/micloud/pkg/crypto"
)

// signedPath reduces a request URL to the form the signature covers: the
// scheme and host are dropped and the public /app prefix collapses to a
// single slash.
func signedPath(rawURL string) string {
	path := rawURL
	if i := strings.Index(path, "://"); i >= 0 {
		rest := path[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			path = rest[j:]
		} else {
			path = "/"
		}
	}
	if strings.HasPrefix(path, "/app/") {
		path = path[len("/app"):]
	}
	return path
}

// Sign computes the order-sensitive request signature: the uppercase
// method, the signed path, each key=value pair in insertion order, and the
// signed nonce, joined with "&" and digested with plain SHA-1.
func Sign(method, rawURL, signedNonce string, params Params) string {
	parts := make([]string, 0, len(params)+3)
	parts = append(parts, strings.ToUpper(method), signedPath(rawURL))
	for _, p := range params {
		parts = append(parts, p.Key+"="+p.Value)
	}
	parts = append(parts, signedNonce)
	return crypto.SHA1Base64([]byte(strings.Join(parts, "&")))
}

// BuildSignedBody assembles the wire parameters for one encrypted call:
//
//  1. rc4_hash__ is the signature over the plaintext parameters.
//  2. Every value, rc4_hash__ included, is encrypted in place.
//  3. signature is the signature over the now-encrypted parameters.
//  4. The security key and nonce trail the map in cleartext.
//
// The returned list is ready for form encoding. Insertion order is the
// signature's input and is never re-sorted.
func BuildSignedBody(method, rawURL, signedNonce, nonce, securityKey string, params Params) (Params, error) {
	body := make(Params, 0, len(params)+4)
	body = append(body, params...)
	body = append(body, Param{Key: "rc4_hash__", Value: Sign(method, rawURL, signedNonce, body)})

	for i := range body {
		enc, err := crypto.EncryptBase64(signedNonce, body[i].Value)
		if err != nil {
			return nil, fmt.Errorf("cloud: encrypting parameter %q: %w", body[i].Key, err)
		}
		body[i].Value = enc
	}

	body = append(body, Param{Key: "signature", Value: Sign(method, rawURL, signedNonce, body)})
	body = append(body, Param{Key: "ssecurity", Value: securityKey})
	body = append(body, Param{Key: "_nonce", Value: nonce})
	return body, nil
}
