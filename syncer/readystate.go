package syncer

import (
	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/ids"
)

// ReadyStateKind is how much of a document a party is known to hold.
type ReadyStateKind int

// Defined ReadyStateKinds.
const (
	Absent ReadyStateKind = iota
	Aware
	Loaded
)

func (k ReadyStateKind) String() string {
	switch k {
	case Absent:
		return "absent"
	case Aware:
		return "aware"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// ChannelSupport names one channel backing a ReadyState entry's knowledge.
type ChannelSupport struct {
	ChannelID ids.ChannelID
	Kind      channel.Kind
	State     channel.State
}

// ReadyState is one entry of a document's readiness picture: the self
// entry has a zero PeerID, every other entry describes one known peer.
type ReadyState struct {
	PeerID   ids.PeerID
	Kind     ReadyStateKind
	Channels []ChannelSupport
}

// ComputeReadyStates derives docID's ReadyState list from the current
// Model: a self entry (aware if the local doc has no operations, loaded if
// it has any) followed by one entry per peer whose awareness of docID is
// known -- synced maps to loaded, pending to aware, absent to absent, and
// unknown peers are omitted entirely.
func ComputeReadyStates(m *Model, docID ids.DocID) []ReadyState {
	var out []ReadyState

	var doc, ok = m.Documents[docID]
	if !ok {
		return out
	}
	var self = ReadyState{Kind: Aware}
	if doc.Doc.OpCount() > 0 {
		self.Kind = Loaded
	}
	out = append(out, self)

	for peerID, peer := range m.Peers {
		var state, known = peer.DocSyncStates[docID]
		if !known || state.Kind == Unknown {
			continue
		}
		var entry = ReadyState{PeerID: peerID}
		switch state.Kind {
		case Synced:
			entry.Kind = Loaded
		case Pending:
			entry.Kind = Aware
		case Absent:
			entry.Kind = Absent
		default:
			continue
		}
		for channelID := range peer.Channels {
			if ch, ok := m.Channels[channelID]; ok {
				entry.Channels = append(entry.Channels, ChannelSupport{ChannelID: channelID, Kind: ch.Kind, State: ch.State()})
			}
		}
		out = append(out, entry)
	}
	return out
}
