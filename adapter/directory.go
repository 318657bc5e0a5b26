package adapter

import (
	"github.com/pkg/errors"

	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/ids"
)

// ErrUnknownChannel is returned when an operation names a ChannelID the
// Directory has no record of.
var ErrUnknownChannel = errors.New("unknown channel")

// Directory aggregates the channels of every Adapter registered with a
// Synchronizer, so commands can route a send by ChannelID alone without
// knowing which Adapter owns it. It is accessed only from the
// single-threaded scheduler goroutine; see package sched.
type Directory struct {
	adapters map[string]Adapter
	channels map[ids.ChannelID]*channel.Channel
	owner    map[ids.ChannelID]Adapter
	gen      ids.Generator
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		adapters: make(map[string]Adapter),
		channels: make(map[ids.ChannelID]*channel.Channel),
		owner:    make(map[ids.ChannelID]Adapter),
	}
}

// RegisterAdapter records a, keyed by its Type. Registering a second
// adapter under the same Type replaces the first (used by tests wiring
// replacement adapters).
func (d *Directory) RegisterAdapter(a Adapter) { d.adapters[a.Type()] = a }

// Adapters returns every registered Adapter.
func (d *Directory) Adapters() []Adapter {
	var out = make([]Adapter, 0, len(d.adapters))
	for _, a := range d.adapters {
		out = append(out, a)
	}
	return out
}

// NextChannelID returns the next process-unique ChannelID.
func (d *Directory) NextChannelID() ids.ChannelID { return d.gen.Next() }

// Add registers ch as owned by owner, making it resolvable by ch.ID.
func (d *Directory) Add(ch *channel.Channel, owner Adapter) {
	d.channels[ch.ID] = ch
	d.owner[ch.ID] = owner
}

// Remove drops the Directory's record of id. It does not itself stop the
// channel or notify the owning adapter; callers do that first.
func (d *Directory) Remove(id ids.ChannelID) {
	delete(d.channels, id)
	delete(d.owner, id)
}

// Get returns the Channel registered under id.
func (d *Directory) Get(id ids.ChannelID) (*channel.Channel, bool) {
	var ch, ok = d.channels[id]
	return ch, ok
}

// Owner returns the Adapter that created the channel registered under id.
func (d *Directory) Owner(id ids.ChannelID) (Adapter, bool) {
	var a, ok = d.owner[id]
	return a, ok
}

// All returns every registered Channel.
func (d *Directory) All() []*channel.Channel {
	var out = make([]*channel.Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	return out
}

// Send groups envelope.ToChannelIDs by owning Adapter and hands each group
// a sub-Envelope, so outbound/Batcher (and package syncer/exec) can route a
// flush by ChannelID alone without tracking adapters itself.
func (d *Directory) Send(envelope Envelope) (delivered int, err error) {
	var byOwner = make(map[Adapter][]ids.ChannelID)
	for _, id := range envelope.ToChannelIDs {
		var owner, ok = d.owner[id]
		if !ok {
			continue
		}
		byOwner[owner] = append(byOwner[owner], id)
	}
	for owner, channelIDs := range byOwner {
		var n, sendErr = owner.Send(Envelope{ToChannelIDs: channelIDs, Message: envelope.Message})
		delivered += n
		if sendErr != nil {
			err = errors.WithMessagef(sendErr, "adapter %s send", owner.Type())
		}
	}
	return delivered, err
}
