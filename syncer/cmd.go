package syncer

import (
	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/wire"
)

// Command is the closed set of imperative effects Update may produce.
// Commands are executed by package syncer/exec against a Context giving
// access to the adapters, ephemeral manager, outbound batcher, and so on.
type Command interface{ isCommand() }

// ChangeSource tags where an applied ephemeral/doc change originated, for
// the events the Repo façade surfaces to callers.
type ChangeSource int

// Defined ChangeSources.
const (
	SourceLocal ChangeSource = iota
	SourceRemote
	SourceInitial
)

// Batch executes every inner Command in order. If Atomic, execution stops
// at the first failing inner Command.
type Batch struct {
	Commands []Command
	Atomic   bool
}

// StopChannel calls channel.Stop() via the owning adapter.
type StopChannel struct{ ChannelID ids.ChannelID }

// SendMessage enqueues envelope on the outbound batcher for each
// referenced channel, after flattening any nested Batch channel message.
type SendMessage struct{ Envelope adapter.Envelope }

// SendSyncRequest builds and enqueues one sync-request message containing
// every entry in Docs.
type SendSyncRequest struct {
	ToChannelID      ids.ChannelID
	Docs             []wire.SyncDoc
	Bidirectional    bool
	IncludeEphemeral bool
}

// SendSyncResponse builds the four-way transmission (up-to-date / snapshot
// / update / unavailable) for DocID relative to RequesterVersion and
// enqueues it. A document not held locally gets the unavailable
// transmission.
type SendSyncResponse struct {
	DocID            ids.DocID
	RequesterVersion crdt.Version
	ToChannelID      ids.ChannelID
	IncludeEphemeral bool
}

// BroadcastEphemeralNamespace encodes the given namespace's store once and
// enqueues an identical ephemeral message to every listed channel.
type BroadcastEphemeralNamespace struct {
	DocID         ids.DocID
	Namespace     string
	ToChannelIDs  []ids.ChannelID
	HopsRemaining uint64
}

// ApplyEphemeral applies received store entries to the matching namespaced
// ephemeral stores, emitting ephemeral-change events with SourceRemote.
type ApplyEphemeral struct {
	DocID  ids.DocID
	Stores []wire.EphemeralEntry
}

// RemoveEphemeralPeer deletes peerID's row from every namespace of every
// document and schedules a deletion broadcast.
type RemoveEphemeralPeer struct{ PeerID ids.PeerID }

// ImportDocData applies received CRDT bytes to DocID's Doc. This MUST run
// after the Model update has already advanced the sending peer's awareness
// (see Update's handling of sync-response), so the resulting
// local-doc-change does not conclude the sender needs an echo.
type ImportDocData struct {
	DocID ids.DocID
	Data  []byte
}

// EmitReadyStateChanged recomputes and emits the ReadyState list for DocID.
type EmitReadyStateChanged struct{ DocID ids.DocID }

// EmitEphemeralChange emits an ephemeral-change event for one namespace.
type EmitEphemeralChange struct {
	DocID     ids.DocID
	Namespace string
	PeerID    ids.PeerID
	Source    ChangeSource
}

// SubscribeDoc attaches the local CRDT change subscription for DocID, so
// future local mutations dispatch LocalDocChange.
type SubscribeDoc struct{ DocID ids.DocID }

func (Batch) isCommand()                       {}
func (StopChannel) isCommand()                  {}
func (SendMessage) isCommand()                  {}
func (SendSyncRequest) isCommand()              {}
func (SendSyncResponse) isCommand()             {}
func (BroadcastEphemeralNamespace) isCommand()  {}
func (ApplyEphemeral) isCommand()               {}
func (RemoveEphemeralPeer) isCommand()          {}
func (ImportDocData) isCommand()                {}
func (EmitReadyStateChanged) isCommand()        {}
func (EmitEphemeralChange) isCommand()          {}
func (SubscribeDoc) isCommand()                 {}
