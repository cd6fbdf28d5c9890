// Package miio speaks the local UDP protocol of Mi Home devices. It is the
// LAN counterpart of the cloud transport: commands address a device directly
// on port 54321 and are encrypted with the device token instead of a cloud
// session key.
package miio

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
)

const (
	// Port is the UDP port devices listen on.
	Port = 54321

	// headerLen is the fixed frame header size. The encrypted payload
	// follows immediately after.
	headerLen = 32

	checksumOffset = 16
)

// magic opens every frame on the wire.
var magic = [2]byte{0x21, 0x31}

// Packet is one decoded protocol frame. The stamp is the device's uptime
// clock in seconds; replies must echo a stamp at or past the last one seen.
type Packet struct {
	DeviceID uint32
	Stamp    uint32
	Payload  []byte
}

// Hello returns the discovery frame. It carries no payload and an all-ones
// body, and every device answers it with its ID and current stamp.
func Hello() []byte {
	pkt := make([]byte, headerLen)
	pkt[0] = magic[0]
	pkt[1] = magic[1]
	binary.BigEndian.PutUint16(pkt[2:4], headerLen)
	for i := 4; i < headerLen; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// Marshal frames the packet and seals it with an MD5 checksum over the
// header, the token and the payload.
func (p *Packet) Marshal(token []byte) []byte {
	pkt := make([]byte, headerLen+len(p.Payload))
	pkt[0] = magic[0]
	pkt[1] = magic[1]
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(pkt)))
	binary.BigEndian.PutUint32(pkt[8:12], p.DeviceID)
	binary.BigEndian.PutUint32(pkt[12:16], p.Stamp)
	copy(pkt[headerLen:], p.Payload)

	sum := md5.New()
	sum.Write(pkt[:checksumOffset])
	sum.Write(token)
	sum.Write(p.Payload)
	copy(pkt[checksumOffset:headerLen], sum.Sum(nil))
	return pkt
}

// ParsePacket decodes one datagram and verifies its checksum. Hello replies
// are exempt from checksum verification: the device fills the checksum field
// with its token there, which the caller does not necessarily know yet.
func ParsePacket(raw, token []byte) (*Packet, error) {
	if len(raw) < headerLen {
		return nil, ErrShortPacket
	}
	if raw[0] != magic[0] || raw[1] != magic[1] {
		return nil, ErrBadMagic
	}
	if int(binary.BigEndian.Uint16(raw[2:4])) != len(raw) {
		return nil, ErrBadLength
	}

	p := &Packet{
		DeviceID: binary.BigEndian.Uint32(raw[8:12]),
		Stamp:    binary.BigEndian.Uint32(raw[12:16]),
		Payload:  append([]byte(nil), raw[headerLen:]...),
	}
	if len(p.Payload) == 0 {
		return p, nil
	}

	sum := md5.New()
	sum.Write(raw[:checksumOffset])
	sum.Write(token)
	sum.Write(p.Payload)
	if !bytes.Equal(sum.Sum(nil), raw[checksumOffset:headerLen]) {
		return nil, ErrChecksum
	}
	return p, nil
}
