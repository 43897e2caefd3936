// Package sink fans stored records out to every reachable destination.
package sink

import (
	"errors"

	"github.com/golang/glog"

	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/recovery"
)

var (
	// ErrNotConnected indicates the sink has no usable link.
	ErrNotConnected = errors.New("not connected")
)

// Sink stores or transmits assembled packets and text rows.
type Sink interface {
	recovery.Verifier
	Name() string
	StoreText(s string) error
	// StorePacket receives a fixed-size queue record. The sink derives the
	// packet length from the length field.
	StorePacket(record []byte) error
}

// Observer is notified about every store attempt, e.g. for metrics.
type Observer interface {
	Stored(name string, n int)
	Failed(name string, err error)
}

// Entry is a registered sink with its recovery state.
type Entry struct {
	Sink
	Recovery *recovery.Manager
}

// Registry fans records out to sinks in registration order. It is owned by
// the storage context.
type Registry struct {
	Observer Observer

	clock   fx.Clock
	entries []*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry(clock fx.Clock) *Registry {
	if clock == nil {
		clock = fx.RealClock{}
	}
	return &Registry{clock: clock}
}

// Add registers a sink.
func (r *Registry) Add(s Sink, rc recovery.Config) *Entry {
	entry := &Entry{
		Sink:     s,
		Recovery: recovery.New(s.Name(), s).WithClock(r.clock).WithConfig(rc),
	}
	r.entries = append(r.entries, entry)
	return entry
}

// Entries returns the registered sinks.
func (r *Registry) Entries() []*Entry {
	return r.entries
}

// Find looks up a sink by name.
func (r *Registry) Find(name string) *Entry {
	for _, e := range r.entries {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

// VerifyAll attempts every sink once and returns the number verified.
func (r *Registry) VerifyAll() int {
	var count int
	for _, e := range r.entries {
		if e.Recovery.AttemptConnection() {
			count++
		}
	}
	glog.Infof("[Core 1] %d/%d sinks verified", count, len(r.entries))
	return count
}

// StorePacket hands record to every connected sink and returns the number
// of sinks which accepted it.
func (r *Registry) StorePacket(record []byte) int {
	return r.store(func(s Sink) error { return s.StorePacket(record) }, len(record))
}

// StoreText hands a text row to every connected sink.
func (r *Registry) StoreText(s string) int {
	return r.store(func(sk Sink) error { return sk.StoreText(s) }, len(s))
}

func (r *Registry) store(fn func(Sink) error, size int) int {
	var count int
	for _, e := range r.entries {
		if !e.Recovery.AttemptConnection() {
			continue
		}
		if err := fn(e.Sink); err != nil {
			glog.Warningf("[Core 1] %s: store failed: %v", e.Name(), err)
			e.Recovery.Invalidate()
			if r.Observer != nil {
				r.Observer.Failed(e.Name(), err)
			}
			continue
		}
		count++
		if r.Observer != nil {
			r.Observer.Stored(e.Name(), size)
		}
	}
	return count
}
