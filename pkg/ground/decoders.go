package ground

import (
	"fmt"
	"sync"

	"github.com/robotalks/payload.go/pkg/channels"
	"github.com/robotalks/payload.go/pkg/msgs"
	"github.com/robotalks/payload.go/pkg/telemetry"
)

// UnknownPayloadError is returned when decoding packets of a payload
// whose meta was never seen.
type UnknownPayloadError struct {
	ID string
}

// Error implements error.
func (e *UnknownPayloadError) Error() string {
	return fmt.Sprintf("no meta for payload %q", e.ID)
}

// Decoders keeps one packet decoder per payload, built from its meta.
type Decoders struct {
	lock     sync.Mutex
	decoders map[string]*telemetry.Decoder
}

// Update rebuilds the decoder of a payload from its meta.
func (d *Decoders) Update(meta *msgs.Meta) error {
	chs, err := channels.Decoding(meta.Channels, meta.Kinds)
	if err != nil {
		return fmt.Errorf("payload %s: %w", meta.ID, err)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.decoders == nil {
		d.decoders = make(map[string]*telemetry.Decoder)
	}
	d.decoders[meta.ID] = telemetry.NewDecoder(chs)
	return nil
}

// Remove forgets a payload.
func (d *Decoders) Remove(id string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.decoders, id)
}

// Header is the CSV header of a payload, empty if unknown.
func (d *Decoders) Header(id string) string {
	d.lock.Lock()
	defer d.lock.Unlock()
	if dec := d.decoders[id]; dec != nil {
		return dec.Header()
	}
	return ""
}

// Decode decodes a packet from payload id. It also returns the channels
// the row was decoded with.
func (d *Decoders) Decode(id string, pkt []byte) (*telemetry.Row, []telemetry.Channel, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	dec := d.decoders[id]
	if dec == nil {
		return nil, nil, &UnknownPayloadError{ID: id}
	}
	row, err := dec.Decode(pkt)
	return row, dec.Channels(), err
}
