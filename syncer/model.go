// Package syncer holds the Synchronizer's pure data model and its pure
// reducer: Update(model, msg) -> []Command. Nothing in this package
// performs I/O or mutates anything outside the Model passed to Update; see
// package syncer/exec for the side-effecting command handlers.
package syncer

import (
	"time"

	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ids"
)

// Identity identifies this process to its peers.
type Identity struct {
	PeerID ids.PeerID
	Name   string
	Type   string
}

// DocSyncKind discriminates the DocSyncState tagged union.
type DocSyncKind int

// Defined DocSyncState kinds.
const (
	Unknown DocSyncKind = iota
	Absent
	Pending
	Synced
)

// DocSyncState records our knowledge of one peer's state for one document.
type DocSyncState struct {
	Kind             DocSyncKind
	LastKnownVersion crdt.Version // meaningful only when Kind == Synced
	LastUpdated      time.Time    // meaningful when Kind == Pending or Synced
}

// Document is a CRDT document tracked by the Synchronizer.
type Document struct {
	DocID ids.DocID
	Doc   crdt.Doc
}

// Peer is a remote process the Synchronizer has an established channel
// with.
type Peer struct {
	Identity      Identity
	Channels      map[ids.ChannelID]struct{}
	Subscriptions map[ids.DocID]struct{}
	DocSyncStates map[ids.DocID]DocSyncState
}

func newPeer(identity Identity) *Peer {
	return &Peer{
		Identity:      identity,
		Channels:      make(map[ids.ChannelID]struct{}),
		Subscriptions: make(map[ids.DocID]struct{}),
		DocSyncStates: make(map[ids.DocID]DocSyncState),
	}
}

// SyncState returns p's DocSyncState for docID, defaulting to Unknown.
func (p *Peer) SyncState(docID ids.DocID) DocSyncState {
	if s, ok := p.DocSyncStates[docID]; ok {
		return s
	}
	return DocSyncState{Kind: Unknown}
}

// Model is the Synchronizer's complete state: documents, peers, and
// channels, indexed by id. It is mutated only from within Update, executed
// by exactly one queued task at a time (see package sched); nothing else
// in this module may hold a reference across a dispatch boundary and
// mutate it.
type Model struct {
	Identity  Identity
	Documents map[ids.DocID]*Document
	Peers     map[ids.PeerID]*Peer
	Channels  map[ids.ChannelID]*channel.Channel

	// LastActivity records the last time a message was received on each
	// channel, used by HeartbeatTick to reap idle established channels.
	LastActivity map[ids.ChannelID]time.Time

	// newDoc constructs a fresh crdt.Doc for a document first seen via
	// add-document or a peer announcement. Tests and the Repo façade each
	// supply their own (e.g. crdt.NewText(identity.PeerID)).
	newDoc func(ids.DocID) crdt.Doc
}

// NewModel returns an empty Model for identity, using newDoc to construct
// a crdt.Doc whenever a document is first observed.
func NewModel(identity Identity, newDoc func(ids.DocID) crdt.Doc) *Model {
	return &Model{
		Identity:     identity,
		Documents:    make(map[ids.DocID]*Document),
		Peers:        make(map[ids.PeerID]*Peer),
		Channels:     make(map[ids.ChannelID]*channel.Channel),
		LastActivity: make(map[ids.ChannelID]time.Time),
		newDoc:       newDoc,
	}
}

// Touch records now as channelID's last activity time.
func (m *Model) Touch(channelID ids.ChannelID, now time.Time) {
	m.LastActivity[channelID] = now
}

// GetOrCreateDocument returns the Document for docID, creating it (and its
// backing crdt.Doc) if this is the first time it has been observed.
// created reports whether a new Document was allocated.
func (m *Model) GetOrCreateDocument(docID ids.DocID) (doc *Document, created bool) {
	if d, ok := m.Documents[docID]; ok {
		return d, false
	}
	var d = &Document{DocID: docID, Doc: m.newDoc(docID)}
	m.Documents[docID] = d
	return d, true
}

// GetOrCreatePeer returns the Peer for peerID, creating it from identity if
// this is the first established channel observed for that peer.
func (m *Model) GetOrCreatePeer(peerID ids.PeerID, identity Identity) *Peer {
	if p, ok := m.Peers[peerID]; ok {
		return p
	}
	var p = newPeer(identity)
	m.Peers[peerID] = p
	return p
}

// RemovePeerChannel removes channelID from peerID's channel set, and
// removes the Peer entirely once its channel set becomes empty. It reports
// whether the Peer was removed.
func (m *Model) RemovePeerChannel(peerID ids.PeerID, channelID ids.ChannelID) (peerRemoved bool) {
	var p, ok = m.Peers[peerID]
	if !ok {
		return false
	}
	delete(p.Channels, channelID)
	if len(p.Channels) == 0 {
		delete(m.Peers, peerID)
		return true
	}
	return false
}

// PeersSubscribedTo returns every Peer subscribed to docID.
func (m *Model) PeersSubscribedTo(docID ids.DocID) []*Peer {
	var out []*Peer
	for _, p := range m.Peers {
		if _, ok := p.Subscriptions[docID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// AnyChannelFor picks one channel id belonging to peer, preferring the
// most recently added (highest numeric id), matching the spec's "MAY use
// most-recent" guidance for peers with duplicate channels.
func (p *Peer) AnyChannelFor() (ids.ChannelID, bool) {
	var best ids.ChannelID
	var found bool
	for id := range p.Channels {
		if !found || id > best {
			best = id
			found = true
		}
	}
	return best, found
}
