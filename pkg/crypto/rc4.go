package crypto

import (
	"crypto/rc4"
	"encoding/base64"
	"fmt"
	"sync"
)

// KeystreamDiscard is the number of leading keystream bytes thrown away
// before the first payload byte is processed. Both ends of the protocol
// discard exactly this many bytes; a mismatch silently corrupts every
// exchange.
const KeystreamDiscard = 1024

// Stream is an RC4 keystream positioned past the mandatory discard.
// Encryption and decryption are the same operation.
type Stream interface {
	XORKeyStream(dst, src []byte)
}

// Backend instantiates RC4 keystreams. Two implementations exist: one
// backed by crypto/rc4 and a pure-software fallback for runtimes that
// refuse to instantiate the deprecated cipher. Both produce byte-identical
// output for the same key.
type Backend interface {
	Name() string
	NewStream(key []byte) (Stream, error)
}

type nativeBackend struct{}

func (nativeBackend) Name() string { return "native" }

func (nativeBackend) NewStream(key []byte) (Stream, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: rc4 key setup: %w", err)
	}
	discardKeystream(c)
	return c, nil
}

type softwareBackend struct{}

func (softwareBackend) Name() string { return "software" }

func (softwareBackend) NewStream(key []byte) (Stream, error) {
	if len(key) < 1 || len(key) > 256 {
		return nil, fmt.Errorf("crypto: rc4 key size %d out of range", len(key))
	}
	s := new(softwareStream)
	for i := range s.s {
		s.s[i] = byte(i)
	}
	var j byte
	for i := 0; i < 256; i++ {
		j += s.s[i] + key[i%len(key)]
		s.s[i], s.s[j] = s.s[j], s.s[i]
	}
	discardKeystream(s)
	return s, nil
}

// softwareStream is a direct implementation of the RC4 pseudo-random
// generation algorithm.
type softwareStream struct {
	s    [256]byte
	i, j byte
}

func (s *softwareStream) XORKeyStream(dst, src []byte) {
	i, j := s.i, s.j
	for n, b := range src {
		i++
		j += s.s[i]
		s.s[i], s.s[j] = s.s[j], s.s[i]
		dst[n] = b ^ s.s[s.s[i]+s.s[j]]
	}
	s.i, s.j = i, j
}

func discardKeystream(s Stream) {
	var sink [KeystreamDiscard]byte
	s.XORKeyStream(sink[:], sink[:])
}

var (
	backendOnce sync.Once
	backend     Backend
)

// ActiveBackend returns the backend selected for this process. The probe
// runs once at first use: if crypto/rc4 can instantiate a cipher the
// native backend is kept, otherwise the software fallback takes over.
func ActiveBackend() Backend {
	backendOnce.Do(func() {
		if _, err := rc4.NewCipher(make([]byte, 16)); err != nil {
			backend = softwareBackend{}
			return
		}
		backend = nativeBackend{}
	})
	return backend
}

// NewStream returns an RC4 stream for key, positioned past the keystream
// discard, using the process-wide backend.
func NewStream(key []byte) (Stream, error) {
	return ActiveBackend().NewStream(key)
}

// EncryptBase64 encrypts plaintext under the base64-encoded signed nonce
// and returns base64 ciphertext.
func EncryptBase64(signedNonce, plaintext string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(signedNonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding signed nonce: %w", err)
	}
	s, err := NewStream(key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(plaintext))
	s.XORKeyStream(out, []byte(plaintext))
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptBase64 decrypts base64 ciphertext under the base64-encoded signed
// nonce and returns the plaintext bytes.
func DecryptBase64(signedNonce, ciphertext string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(signedNonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding signed nonce: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}
	s, err := NewStream(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	s.XORKeyStream(out, raw)
	return out, nil
}
