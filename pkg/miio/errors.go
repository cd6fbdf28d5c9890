package miio

import (
	"errors"
	"fmt"
)

// Local protocol errors.
var (
	// ErrBadToken is returned when the device token is not 16 hex-encoded bytes.
	ErrBadToken = errors.New("miio: token must be 16 hex-encoded bytes")

	// ErrShortPacket is returned when a datagram is smaller than the frame header.
	ErrShortPacket = errors.New("miio: packet shorter than header")

	// ErrBadMagic is returned when a datagram does not start with the protocol magic.
	ErrBadMagic = errors.New("miio: bad packet magic")

	// ErrBadLength is returned when the header length field disagrees with the datagram size.
	ErrBadLength = errors.New("miio: packet length mismatch")

	// ErrChecksum is returned when the packet checksum does not verify against the token.
	ErrChecksum = errors.New("miio: packet checksum mismatch")

	// ErrNotReady is returned when a command is sent before the handshake completed.
	ErrNotReady = errors.New("miio: no handshake performed")

	// ErrBadPadding is returned when a decrypted payload carries invalid padding.
	ErrBadPadding = errors.New("miio: invalid payload padding")
)

// DeviceError is a non-zero error object returned by the device itself.
type DeviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("miio: device error %d: %s", e.Code, e.Message)
}
