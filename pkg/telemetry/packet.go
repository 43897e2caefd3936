package telemetry

import (
	"bytes"
	"math/bits"
)

// SyncMarker starts every packet.
const SyncMarker = "ASU!"

// Packet layout.
const (
	SyncSize        = 4
	PresenceOffset  = 4
	LengthOffset    = 8
	TimestampOffset = 10
	HeaderSize      = 14
	ChecksumSize    = 1
	MinPacketSize   = HeaderSize + ChecksumSize
	// MaxChannels is the number of bits in the presence mask.
	MaxChannels = 32
	// DefaultPacketSize is the fixed record size of the sample queue.
	DefaultPacketSize = 500
)

// Header holds the fixed fields following the sync marker.
type Header struct {
	Presence  uint32
	Length    uint16
	Timestamp uint32
}

// Present reports whether channel ordinal contributed data.
func (h Header) Present(ordinal int) bool {
	return ordinal >= 0 && ordinal < MaxChannels && h.Presence&(1<<uint(ordinal)) != 0
}

// Count is the number of contributing channels.
func (h Header) Count() int {
	return bits.OnesCount32(h.Presence)
}

// Highest is the highest contributing ordinal, or -1 for an empty packet.
func (h Header) Highest() int {
	return MaxChannels - 1 - bits.LeadingZeros32(h.Presence)
}

// HasSync checks the sync marker.
func HasSync(pkt []byte) bool {
	return len(pkt) >= SyncSize && bytes.Equal(pkt[:SyncSize], []byte(SyncMarker))
}

// ParseHeader reads the header and validates the length field against the
// available bytes. The sync marker is not checked.
func ParseHeader(pkt []byte) (h Header, err error) {
	if len(pkt) < MinPacketSize {
		return h, ErrShortPacket
	}
	h.Presence = ByteOrder.Uint32(pkt[PresenceOffset:])
	h.Length = ByteOrder.Uint16(pkt[LengthOffset:])
	h.Timestamp = ByteOrder.Uint32(pkt[TimestampOffset:])
	if int(h.Length) < MinPacketSize || int(h.Length) > len(pkt) {
		return h, ErrBadLength
	}
	return h, nil
}

// Trim cuts a fixed-size record down to the packet it carries.
func Trim(record []byte) ([]byte, error) {
	h, err := ParseHeader(record)
	if err != nil {
		return nil, err
	}
	return record[:h.Length], nil
}

// Sum is the 8-bit additive sum of b.
func Sum(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s
}

// Checksum is the byte that brings the sum of b to zero.
func Checksum(b []byte) byte {
	return -Sum(b)
}

// ChecksumOK reports whether a complete packet sums to zero.
func ChecksumOK(pkt []byte) bool {
	return Sum(pkt) == 0
}
