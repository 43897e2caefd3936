package telemetry

// Parser extracts packets from a byte stream. It locks onto the sync
// marker, reads the header, then collects the rest of the packet as given
// by the length field. An impossible length drops the collected bytes and
// restarts the search for the sync marker.
type Parser struct {
	// MaxSize bounds the accepted length field, DefaultPacketSize if zero.
	MaxSize int

	state   parseState
	buf     []byte
	need    int
	skipped int
}

// ParseResult indicates the result after one parsing step.
type ParseResult struct {
	// Packet is a complete packet, nil until one is ready.
	Packet []byte
	// Skipped is the number of bytes discarded while searching for the
	// sync marker since the last packet.
	Skipped int
}

type parseState int

const (
	stateSync   parseState = iota // matching sync marker, len(buf) bytes matched
	stateHeader                   // collecting the header
	stateBody                     // collecting until the length field
)

// Reset drops any partial packet.
func (p *Parser) Reset() {
	p.state, p.buf, p.need, p.skipped = stateSync, p.buf[:0], 0, 0
}

// Synced reports whether the parser is inside a packet.
func (p *Parser) Synced() bool {
	return p.state != stateSync
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	switch p.state {
	case stateSync:
		if b == SyncMarker[len(p.buf)] {
			p.buf = append(p.buf, b)
			if len(p.buf) == SyncSize {
				p.state = stateHeader
			}
			return
		}
		p.skipped += len(p.buf)
		p.buf = p.buf[:0]
		if b == SyncMarker[0] {
			p.buf = append(p.buf, b)
		} else {
			p.skipped++
		}
	case stateHeader:
		p.buf = append(p.buf, b)
		if len(p.buf) < HeaderSize {
			return
		}
		length := int(ByteOrder.Uint16(p.buf[LengthOffset:]))
		if length < MinPacketSize || length > p.maxSize() {
			p.resync()
			return
		}
		p.need, p.state = length, stateBody
	case stateBody:
		p.buf = append(p.buf, b)
		if len(p.buf) >= p.need {
			pr.Packet = append([]byte(nil), p.buf...)
			pr.Skipped = p.skipped
			p.Reset()
		}
	}
	return
}

// Write feeds bytes and calls fn for each completed packet.
func (p *Parser) Write(data []byte, fn func(ParseResult)) {
	for _, b := range data {
		if pr := p.Parse(b); pr.Packet != nil {
			fn(pr)
		}
	}
}

func (p *Parser) resync() {
	p.skipped += len(p.buf)
	p.state, p.buf, p.need = stateSync, p.buf[:0], 0
}

func (p *Parser) maxSize() int {
	if p.MaxSize > 0 {
		return p.MaxSize
	}
	return DefaultPacketSize
}
