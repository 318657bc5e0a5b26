package syncer

import (
	"time"

	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/wire"
)

// Msg is the closed set of events Update consumes.
type Msg interface{ isMsg() }

// PeerArrived is dispatched once a channel reaches the Connected state,
// whether because we dialed out or a remote peer connected to us. Update
// responds by initiating the establishment handshake.
type PeerArrived struct{ Channel *channel.Channel }

// PeerDeparted is dispatched when a channel is removed or stops.
type PeerDeparted struct{ ChannelID ids.ChannelID }

// ChannelReceive wraps one decoded wire.Message arriving on a channel,
// covering both the establishment handshake (JoinRequest/JoinResponseOk/
// JoinError) and the unified DocUpdate channel message.
type ChannelReceive struct {
	FromChannelID ids.ChannelID
	Message       wire.Message
}

// LocalDocChange is dispatched after a local CRDT mutation commits.
type LocalDocChange struct{ DocID ids.DocID }

// LocalEphemeralChange is dispatched after a local presence write.
type LocalEphemeralChange struct {
	DocID     ids.DocID
	Namespace string
}

// AddDocument is dispatched by an explicit repo.Get(docID).
type AddDocument struct{ DocID ids.DocID }

// RemoveDocument is dispatched by an explicit repo.Delete(docID).
type RemoveDocument struct{ DocID ids.DocID }

// HeartbeatTick is dispatched periodically to reap idle channels.
type HeartbeatTick struct{ Now time.Time }

func (PeerArrived) isMsg()         {}
func (PeerDeparted) isMsg()        {}
func (ChannelReceive) isMsg()      {}
func (LocalDocChange) isMsg()      {}
func (LocalEphemeralChange) isMsg() {}
func (AddDocument) isMsg()         {}
func (RemoveDocument) isMsg()      {}
func (HeartbeatTick) isMsg()       {}
