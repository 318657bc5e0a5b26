// Package channel defines the Channel abstraction: a typed bidirectional
// message pipe with a lifecycle of generated -> connected -> established ->
// stopped, addressed by ids.ChannelID and opaque to the Synchronizer beyond
// that lifecycle and its Send closure.
package channel

import (
	"github.com/pkg/errors"

	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/wire"
)

// State is a Channel's position in its lifecycle. The sequence of states
// observed by any Channel is always a prefix of (Generated, Connected,
// Established, Stopped).
type State int

// Defined lifecycle states.
const (
	Generated State = iota
	Connected
	Established
	Stopped
)

func (s State) String() string {
	switch s {
	case Generated:
		return "generated"
	case Connected:
		return "connected"
	case Established:
		return "established"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Kind distinguishes a network channel (talks to a remote peer process)
// from a storage channel (talks to a local or remote persistence layer).
type Kind int

// Defined channel kinds.
const (
	KindNetwork Kind = iota
	KindStorage
)

// SendFunc delivers one decoded wire.Message at a time over a Channel --
// covering both the establishment handshake and the unified DocUpdate
// channel message. Framing (wire encoding, fragmentation) is the adapter's
// responsibility, applied around this closure.
type SendFunc func(wire.Message) error

// ErrChannelStopped is returned by Send and Establish when called on a
// Channel that has already transitioned to Stopped.
var ErrChannelStopped = errors.New("channel stopped")

// ErrInvalidTransition is returned when a caller attempts a lifecycle
// transition out of order (e.g. Establish before Connect).
var ErrInvalidTransition = errors.New("invalid channel state transition")

// Channel is the unit of addressability at the transport layer. It tracks
// its own lifecycle state and, once Established, the bound peer identity.
type Channel struct {
	ID          ids.ChannelID
	AdapterType string
	Kind        Kind

	state  State
	peerID ids.PeerID
	send   SendFunc
}

// New returns a Channel in the Generated state, not yet registered with
// any directory.
func New(id ids.ChannelID, adapterType string, kind Kind) *Channel {
	return &Channel{ID: id, AdapterType: adapterType, Kind: kind, state: Generated}
}

// State returns the Channel's current lifecycle state.
func (c *Channel) State() State { return c.state }

// PeerID returns the bound peer identity. Only meaningful once State() ==
// Established.
func (c *Channel) PeerID() ids.PeerID { return c.peerID }

// Connect transitions Generated -> Connected, binding the SendFunc the
// adapter will use to deliver outbound messages. Only establishment
// messages may be exchanged until Establish is called.
func (c *Channel) Connect(send SendFunc) error {
	if c.state != Generated {
		return errors.WithMessagef(ErrInvalidTransition, "connect: channel %s is %s", c.ID, c.state)
	}
	c.state = Connected
	c.send = send
	return nil
}

// Establish transitions Connected -> Established, binding the confirmed
// peer identity. After this call any channel message may be exchanged.
func (c *Channel) Establish(peerID ids.PeerID) error {
	if c.state != Connected {
		return errors.WithMessagef(ErrInvalidTransition, "establish: channel %s is %s", c.ID, c.state)
	}
	c.state = Established
	c.peerID = peerID
	return nil
}

// Stop transitions the Channel to the terminal Stopped state. Stop is
// idempotent: stopping an already-stopped Channel is a no-op.
func (c *Channel) Stop() {
	c.state = Stopped
	c.send = nil
}

// Send delivers msg via the bound SendFunc. It returns ErrChannelStopped
// if the channel has been stopped, and ErrInvalidTransition if called
// before Connect. Send does not itself enforce MayExchange: callers are
// responsible for only sending establishment messages before the channel
// reaches Established.
func (c *Channel) Send(msg wire.Message) error {
	switch c.state {
	case Stopped:
		return ErrChannelStopped
	case Generated:
		return errors.WithMessagef(ErrInvalidTransition, "send: channel %s is %s", c.ID, c.state)
	default:
		return c.send(msg)
	}
}

// MayExchange reports whether non-establishment messages are permitted on
// this channel in its current state.
func (c *Channel) MayExchange() bool { return c.state == Established }
