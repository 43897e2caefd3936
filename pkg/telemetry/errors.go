package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrShortBuffer indicates a cursor has no room for the requested bytes.
	ErrShortBuffer = errors.New("short buffer")
	// ErrShortPacket indicates the bytes are fewer than a minimal packet.
	ErrShortPacket = errors.New("short packet")
	// ErrBadLength indicates the length field disagrees with the packet bytes.
	ErrBadLength = errors.New("bad packet length")
	// ErrTooManyChannels indicates the presence bitmask cannot address another channel.
	ErrTooManyChannels = errors.New("too many channels")
)

// UnknownChannelError indicates a presence bit without a matching channel.
type UnknownChannelError struct {
	Ordinal int
}

// Error implements error.
func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("no channel at ordinal %d", e.Ordinal)
}
