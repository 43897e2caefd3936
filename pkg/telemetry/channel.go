package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/recovery"
)

// Channel is one telemetry data source.
type Channel interface {
	recovery.Verifier
	// Name identifies the channel in logs and status.
	Name() string
	// Fields are the CSV column names, one per decoded value.
	Fields() []string
	// MinimumPeriod is the shortest interval between two samples.
	MinimumPeriod() time.Duration
	// Encode appends the latest sample. Leaving the cursor where it was
	// means no new data this iteration.
	Encode(c *Cursor) error
	// Decode consumes exactly what Encode wrote and formats one string per
	// field. It must not touch hardware or channel state.
	Decode(c *Cursor) ([]string, error)
}

// ChannelEntry is a registered channel with its recovery state.
type ChannelEntry struct {
	Channel
	Ordinal  int
	Recovery *recovery.Manager

	lastSample time.Time
	sampled    bool
}

func (e *ChannelEntry) due(now time.Time) bool {
	return !e.sampled || now.Sub(e.lastSample) >= e.MinimumPeriod()
}

// ChannelRegistry holds channels in ordinal order. Registration order is
// the presence bit order and must be identical for encoder and decoder.
type ChannelRegistry struct {
	clock   fx.Clock
	entries []*ChannelEntry
}

// NewChannelRegistry creates an empty registry.
func NewChannelRegistry(clock fx.Clock) *ChannelRegistry {
	if clock == nil {
		clock = fx.RealClock{}
	}
	return &ChannelRegistry{clock: clock}
}

// Add registers a channel at the next ordinal.
func (r *ChannelRegistry) Add(ch Channel, rc recovery.Config) (*ChannelEntry, error) {
	if len(r.entries) >= MaxChannels {
		return nil, ErrTooManyChannels
	}
	entry := &ChannelEntry{
		Channel:  ch,
		Ordinal:  len(r.entries),
		Recovery: recovery.New(ch.Name(), ch).WithClock(r.clock).WithConfig(rc),
	}
	r.entries = append(r.entries, entry)
	return entry, nil
}

// Entries returns the registered channels in ordinal order.
func (r *ChannelRegistry) Entries() []*ChannelEntry {
	return r.entries
}

// Channels returns the bare channels in ordinal order.
func (r *ChannelRegistry) Channels() []Channel {
	chs := make([]Channel, len(r.entries))
	for n, e := range r.entries {
		chs[n] = e.Channel
	}
	return chs
}

// Len is the number of registered channels.
func (r *ChannelRegistry) Len() int {
	return len(r.entries)
}

// VerifyAll attempts every channel once and returns the number verified.
func (r *ChannelRegistry) VerifyAll() int {
	var count int
	for _, e := range r.entries {
		if e.Recovery.AttemptConnection() {
			count++
		}
	}
	glog.Infof("[Core 0] %d/%d channels verified", count, len(r.entries))
	return count
}

// Verified returns the current verified flag of every channel by ordinal.
func (r *ChannelRegistry) Verified() []bool {
	flags := make([]bool, len(r.entries))
	for n, e := range r.entries {
		flags[n] = e.Recovery.Verified()
	}
	return flags
}

// Header is the CSV header row matching Row.CSV.
func (r *ChannelRegistry) Header() string {
	return CSVHeader(r.Channels())
}

// Decoder creates a Decoder which treats a channel as previously verified
// when its recovery manager currently reports it verified.
func (r *ChannelRegistry) Decoder() *Decoder {
	d := NewDecoder(r.Channels())
	d.WasVerified = func(ordinal int) bool {
		return ordinal < len(r.entries) && r.entries[ordinal].Recovery.Verified()
	}
	return d
}

// Encode builds one packet into buf and returns its length and presence
// mask. Only channels that are connected, due and actually advance the
// cursor contribute. A channel failing to encode is rolled back and flagged
// for reverification.
func (r *ChannelRegistry) Encode(buf []byte, timestamp uint32) (int, uint32, error) {
	if len(buf) < MinPacketSize {
		return 0, 0, ErrShortBuffer
	}
	// the last byte is reserved for the checksum.
	c := NewCursor(buf[:len(buf)-ChecksumSize])
	c.Write([]byte(SyncMarker))
	c.Advance(TimestampOffset - PresenceOffset)
	c.PutUint32(timestamp)

	now := r.clock.Now()
	var presence uint32
	for _, e := range r.entries {
		if !e.Recovery.AttemptConnection() || !e.due(now) {
			continue
		}
		start := c.Pos()
		if err := e.Encode(c); err != nil {
			c.Seek(start)
			if errors.Is(err, ErrShortBuffer) {
				glog.Warningf("[Core 0] %s: no room in packet", e.Name())
				continue
			}
			glog.Warningf("[Core 0] %s: encode failed: %v", e.Name(), err)
			e.Recovery.Invalidate()
			continue
		}
		if c.Pos() == start {
			continue
		}
		e.lastSample, e.sampled = now, true
		presence |= 1 << uint(e.Ordinal)
	}

	size := c.Pos() + ChecksumSize
	ByteOrder.PutUint32(buf[PresenceOffset:], presence)
	ByteOrder.PutUint16(buf[LengthOffset:], uint16(size))
	buf[size-1] = Checksum(buf[:size-1])
	return size, presence, nil
}

// CSVHeader builds the header row for channels.
func CSVHeader(channels []Channel) string {
	var sb strings.Builder
	sb.WriteString("presence,millis,")
	for _, ch := range channels {
		for _, f := range ch.Fields() {
			fmt.Fprintf(&sb, "%s_%s,", ch.Name(), f)
		}
	}
	return sb.String()
}
