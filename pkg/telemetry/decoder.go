package telemetry

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// Placeholder stands in for each field of a channel which was expected
// but did not contribute to a packet.
const Placeholder = "-"

// Cell is the decoded contribution of one channel.
type Cell struct {
	Ordinal     int
	Channel     string
	Fields      []string
	Placeholder bool
}

// Row is a decoded packet.
type Row struct {
	Header
	Cells      []Cell
	ChecksumOK bool
}

// CSV renders the row as `<presence hex>,<timestamp>,<fields>,...`.
func (r *Row) CSV() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%x,%d,", r.Presence, r.Timestamp)
	for _, cell := range r.Cells {
		for _, f := range cell.Fields {
			sb.WriteString(f)
			sb.WriteByte(',')
		}
	}
	return sb.String()
}

// Decoder turns packets back into rows. Each execution context owns its
// own Decoder; the seen flags are the only state.
type Decoder struct {
	channels []Channel
	seen     []bool

	// WasVerified reports whether the channel at ordinal was verified
	// before, which makes it eligible for placeholders when absent.
	// Channels that have appeared in a decoded packet always are.
	WasVerified func(ordinal int) bool
}

// NewDecoder creates a Decoder for channels in ordinal order.
func NewDecoder(channels []Channel) *Decoder {
	return &Decoder{
		channels: channels,
		seen:     make([]bool, len(channels)),
	}
}

// Channels returns the channels in ordinal order.
func (d *Decoder) Channels() []Channel {
	return d.channels
}

// Header is the CSV header row matching Row.CSV.
func (d *Decoder) Header() string {
	return CSVHeader(d.channels)
}

func (d *Decoder) wasVerified(ordinal int) bool {
	if d.seen[ordinal] {
		return true
	}
	return d.WasVerified != nil && d.WasVerified(ordinal)
}

// Decode parses a packet, or a fixed-size record carrying one. Channels
// are walked in ascending ordinal up to the highest present bit; an absent
// channel yields placeholders when it was verified before, nothing
// otherwise. A checksum mismatch is reported in the row and logged but does
// not fail decoding.
func (d *Decoder) Decode(pkt []byte) (*Row, error) {
	h, err := ParseHeader(pkt)
	if err != nil {
		return nil, err
	}
	pkt = pkt[:h.Length]
	row := &Row{Header: h, ChecksumOK: ChecksumOK(pkt)}
	if !row.ChecksumOK {
		glog.Warningf("[Data] checksum mismatch in packet at %d ms", h.Timestamp)
	}

	c := NewCursor(pkt[HeaderSize : len(pkt)-ChecksumSize])
	for ordinal := 0; ordinal <= h.Highest(); ordinal++ {
		if ordinal >= len(d.channels) {
			if h.Present(ordinal) {
				return row, &UnknownChannelError{Ordinal: ordinal}
			}
			continue
		}
		ch := d.channels[ordinal]
		if h.Present(ordinal) {
			fields, err := ch.Decode(c)
			if err != nil {
				return row, fmt.Errorf("decode %s: %w", ch.Name(), err)
			}
			d.seen[ordinal] = true
			row.Cells = append(row.Cells, Cell{Ordinal: ordinal, Channel: ch.Name(), Fields: fields})
			continue
		}
		if d.wasVerified(ordinal) {
			fields := make([]string, len(ch.Fields()))
			for n := range fields {
				fields[n] = Placeholder
			}
			row.Cells = append(row.Cells, Cell{Ordinal: ordinal, Channel: ch.Name(), Fields: fields, Placeholder: true})
		}
	}
	return row, nil
}
