package syncer

import (
	"time"

	log "github.com/sirupsen/logrus"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/internal/logging"
	"go.gazette.dev/sync/rules"
	"go.gazette.dev/sync/wire"
)

// Program holds the configuration Update needs beyond the Model and Msg
// themselves: the permission Rules and the idle-channel timeout used by
// HeartbeatTick. It carries no mutable state of its own.
type Program struct {
	Rules              *rules.Rules
	ChannelIdleTimeout time.Duration
}

// NewProgram returns a Program. A nil rls defaults to rules.Default().
func NewProgram(rls *rules.Rules, channelIdleTimeout time.Duration) *Program {
	if rls == nil {
		rls = rules.Default()
	}
	return &Program{Rules: rls, ChannelIdleTimeout: channelIdleTimeout}
}

// Update is the Synchronizer's pure reducer: it mutates model in place to
// reflect msg and returns the imperative Commands the caller's executor
// must run. Update never performs I/O and never blocks.
func (p *Program) Update(m *Model, msg Msg) []Command {
	switch msg := msg.(type) {
	case PeerArrived:
		return p.onPeerArrived(m, msg)
	case PeerDeparted:
		return p.onPeerDeparted(m, msg)
	case ChannelReceive:
		return p.onChannelReceive(m, msg)
	case LocalDocChange:
		return p.onLocalDocChange(m, msg)
	case LocalEphemeralChange:
		return p.onLocalEphemeralChange(m, msg)
	case AddDocument:
		return p.onAddDocument(m, msg)
	case RemoveDocument:
		return p.onRemoveDocument(m, msg)
	case HeartbeatTick:
		return p.onHeartbeatTick(m, msg)
	default:
		logging.WithFields(log.Fields{"msg": msg}).Warn("sync: unknown message type")
		return nil
	}
}

func joinMessage(typ wire.MessageType, identity Identity, reason string) wire.Message {
	return wire.Message{
		Magic:  wire.MagicLoro,
		Type:   typ,
		Identity: wire.Identity{PeerID: identity.PeerID.String(), Name: identity.Name, Type: identity.Type},
		Reason: reason,
	}
}

func docMsg(cm wire.ChannelMessage) wire.Message {
	return wire.Message{Magic: wire.MagicLoro, Type: wire.DocUpdate, Channel: cm}
}

func ephemeralMsg(cm wire.ChannelMessage) wire.Message {
	return wire.Message{Magic: wire.MagicEphemeral, Type: wire.DocUpdate, Channel: cm}
}

func sendTo(channelID ids.ChannelID, msg wire.Message) Command {
	return SendMessage{Envelope: adapter.Envelope{ToChannelIDs: []ids.ChannelID{channelID}, Message: msg}}
}

// onPeerArrived initiates the establishment handshake for a newly connected
// channel by sending our identity as a JoinRequest.
func (p *Program) onPeerArrived(m *Model, msg PeerArrived) []Command {
	var ch = msg.Channel
	m.Channels[ch.ID] = ch
	m.Touch(ch.ID, time.Now())
	return []Command{sendTo(ch.ID, joinMessage(wire.JoinRequest, m.Identity, ""))}
}

// onPeerDeparted removes channelID's bookkeeping and, if its peer has no
// other channel left, sweeps the peer's ephemeral presence.
func (p *Program) onPeerDeparted(m *Model, msg PeerDeparted) []Command {
	var ch, ok = m.Channels[msg.ChannelID]
	delete(m.Channels, msg.ChannelID)
	delete(m.LastActivity, msg.ChannelID)
	if !ok {
		return nil
	}
	var peerID = ch.PeerID()
	ch.Stop()

	if peerID != "" && m.RemovePeerChannel(peerID, msg.ChannelID) {
		return []Command{RemoveEphemeralPeer{PeerID: peerID}}
	}
	return nil
}

func (p *Program) onChannelReceive(m *Model, msg ChannelReceive) []Command {
	m.Touch(msg.FromChannelID, time.Now())

	var ch, ok = m.Channels[msg.FromChannelID]
	if !ok {
		logging.WithFields(log.Fields{"channelId": msg.FromChannelID}).Warn("sync: receive on unknown channel")
		return nil
	}

	switch msg.Message.Type {
	case wire.JoinRequest:
		return p.onJoinRequest(m, ch, msg.Message.Identity)
	case wire.JoinResponseOk:
		return p.onJoinResponseOk(m, ch, msg.Message.Identity)
	case wire.JoinError:
		logging.WithFields(log.Fields{"channelId": ch.ID, "reason": msg.Message.Reason}).Warn("sync: peer rejected establishment")
		ch.Stop()
		return nil
	case wire.Leave:
		return p.onPeerDeparted(m, PeerDeparted{ChannelID: ch.ID})
	case wire.UpdateError:
		logging.WithFields(log.Fields{"channelId": ch.ID, "code": msg.Message.ErrCode, "detail": msg.Message.ErrDetail}).Warn("sync: peer reported error")
		return nil
	case wire.DocUpdate:
		if !ch.MayExchange() {
			logging.WithFields(log.Fields{"channelId": ch.ID}).Warn("sync: dropping channel message before establishment")
			return nil
		}
		return p.onChannelMessage(m, ch, msg.Message.Channel)
	default:
		logging.WithFields(log.Fields{"type": msg.Message.Type}).Warn("sync: unhandled top-level message type")
		return nil
	}
}

func (p *Program) onChannelMessage(m *Model, ch *channel.Channel, cm wire.ChannelMessage) []Command {
	switch cm.Kind {
	case wire.KindNewDoc:
		return p.onAnnouncedDocs(m, ch, cm.DocIDs)
	case wire.KindDirectoryRequest:
		return p.onDirectoryRequest(m, ch)
	case wire.KindDirectoryResponse:
		return p.onAnnouncedDocs(m, ch, cm.DocIDs)
	case wire.KindSyncRequest:
		return p.onSyncRequest(m, ch, cm)
	case wire.KindSyncResponse:
		return p.onSyncResponse(m, ch, cm)
	case wire.KindEphemeral:
		return []Command{ApplyEphemeral{DocID: ids.DocID(cm.DocID), Stores: cm.Stores}}
	case wire.KindBatch:
		var out []Command
		for _, inner := range wire.Flatten(cm.Messages) {
			out = append(out, p.onChannelMessage(m, ch, inner)...)
		}
		return out
	default:
		logging.WithFields(log.Fields{"kind": cm.Kind}).Warn("sync: unknown channel message kind")
		return nil
	}
}

// onJoinRequest validates an inbound establishment request and, if valid,
// binds the peer identity and replies with our own identity.
func (p *Program) onJoinRequest(m *Model, ch *channel.Channel, identity wire.Identity) []Command {
	var peerID = ids.PeerID(identity.PeerID)
	if err := peerID.Validate(); err != nil {
		ch.Stop()
		return []Command{sendTo(ch.ID, joinMessage(wire.JoinError, Identity{}, err.Error()))}
	}
	if peerID == m.Identity.PeerID {
		ch.Stop()
		return []Command{sendTo(ch.ID, joinMessage(wire.JoinError, Identity{}, "peer id equals our own"))}
	}
	if err := ch.Establish(peerID); err != nil {
		return nil
	}
	var peer = m.GetOrCreatePeer(peerID, Identity{PeerID: peerID, Name: identity.Name, Type: identity.Type})
	peer.Channels[ch.ID] = struct{}{}

	var cmds = []Command{sendTo(ch.ID, joinMessage(wire.JoinResponseOk, m.Identity, ""))}
	cmds = append(cmds, sendTo(ch.ID, docMsg(wire.ChannelMessage{Kind: wire.KindDirectoryRequest})))
	return cmds
}

// onJoinResponseOk completes establishment on the initiating side.
func (p *Program) onJoinResponseOk(m *Model, ch *channel.Channel, identity wire.Identity) []Command {
	if ch.State() != channel.Connected {
		// Duplicate or late response on an already-established channel.
		return nil
	}
	var peerID = ids.PeerID(identity.PeerID)
	if err := peerID.Validate(); err != nil {
		ch.Stop()
		return nil
	}
	if err := ch.Establish(peerID); err != nil {
		return nil
	}
	var peer = m.GetOrCreatePeer(peerID, Identity{PeerID: peerID, Name: identity.Name, Type: identity.Type})
	peer.Channels[ch.ID] = struct{}{}

	return []Command{sendTo(ch.ID, docMsg(wire.ChannelMessage{Kind: wire.KindDirectoryRequest}))}
}

// onDirectoryRequest replies with every document rules.CanReveal permits
// revealing to the requesting peer.
func (p *Program) onDirectoryRequest(m *Model, ch *channel.Channel) []Command {
	var peer, ok = m.Peers[ch.PeerID()]
	if !ok {
		return nil
	}
	var ctx = p.peerCtx(peer, ch)
	var docIDs []string
	for docID, doc := range m.Documents {
		var dctx = ctx
		dctx.Document = &rules.DocContext{DocID: docID, Doc: doc.Doc}
		if p.Rules.CanReveal(dctx) {
			docIDs = append(docIDs, docID.String())
		}
	}
	return []Command{sendTo(ch.ID, docMsg(wire.ChannelMessage{Kind: wire.KindDirectoryResponse, DocIDs: docIDs}))}
}

// onAnnouncedDocs handles both new-doc and directory-response: for every
// docID not yet known locally, create the document, mark the sender
// pending for it, and accumulate a sync-request entry.
func (p *Program) onAnnouncedDocs(m *Model, ch *channel.Channel, docIDs []string) []Command {
	var peer, ok = m.Peers[ch.PeerID()]
	if !ok {
		return nil
	}
	var syncDocs []wire.SyncDoc
	for _, raw := range docIDs {
		var docID = ids.DocID(raw)
		var _, created = m.GetOrCreateDocument(docID)
		if !created {
			if _, known := peer.DocSyncStates[docID]; known {
				continue
			}
		}
		peer.DocSyncStates[docID] = DocSyncState{Kind: Pending, LastUpdated: time.Now()}
		syncDocs = append(syncDocs, wire.SyncDoc{DocID: raw, RequesterVersion: nil})
	}
	if len(syncDocs) == 0 {
		return nil
	}
	return []Command{SendSyncRequest{
		ToChannelID:      ch.ID,
		Docs:             syncDocs,
		Bidirectional:    true,
		IncludeEphemeral: true,
	}}
}

// onSyncRequest implements the four-way transmission decision for each
// requested doc, plus the reciprocal sync-request when bidirectional.
func (p *Program) onSyncRequest(m *Model, ch *channel.Channel, cm wire.ChannelMessage) []Command {
	var peer, ok = m.Peers[ch.PeerID()]
	if !ok {
		return nil
	}
	var ctx = p.peerCtx(peer, ch)

	var cmds []Command
	var reciprocal []wire.SyncDoc
	for _, sd := range cm.SyncDocs {
		var docID = ids.DocID(sd.DocID)
		// sync-request is not a creating event: a Document comes into being
		// only via get, or on receiving new-doc/directory-response/
		// sync-response. Look up without creating, so a request for a doc we
		// never held reaches sendSyncResponse's unavailable branch instead
		// of fabricating empty local state for it.
		var doc, haveDoc = m.Documents[docID]

		var dctx = ctx
		if haveDoc {
			dctx.Document = &rules.DocContext{DocID: docID, Doc: doc.Doc}
		}
		if p.Rules.CanSubscribe(dctx) {
			peer.Subscriptions[docID] = struct{}{}
		}

		var requesterVersion, err = crdt.DecodeVectorVersion(sd.RequesterVersion)
		if err != nil {
			logging.WithFields(log.Fields{"docId": docID, "err": err}).Warn("sync: malformed requesterVersion")
			continue
		}
		peer.DocSyncStates[docID] = DocSyncState{Kind: Synced, LastKnownVersion: requesterVersion, LastUpdated: time.Now()}

		cmds = append(cmds, SendSyncResponse{
			DocID:            docID,
			RequesterVersion: requesterVersion,
			ToChannelID:      ch.ID,
			IncludeEphemeral: cm.Bidirectional,
		})

		if cm.Bidirectional && haveDoc {
			reciprocal = append(reciprocal, wire.SyncDoc{DocID: sd.DocID, RequesterVersion: doc.Doc.Version().Bytes()})
		}
	}
	if len(reciprocal) > 0 {
		cmds = append(cmds, SendSyncRequest{
			ToChannelID:      ch.ID,
			Docs:             reciprocal,
			Bidirectional:    false,
			IncludeEphemeral: cm.Bidirectional,
		})
	}
	return cmds
}

// onSyncResponse advances the sending peer's awareness before scheduling
// the CRDT import, so the resulting local-doc-change does not echo back.
func (p *Program) onSyncResponse(m *Model, ch *channel.Channel, cm wire.ChannelMessage) []Command {
	var peer, ok = m.Peers[ch.PeerID()]
	if !ok {
		return nil
	}
	var docID = ids.DocID(cm.DocID)
	var doc, _ = m.GetOrCreateDocument(docID)

	switch cm.Transmission.Kind {
	case wire.TransmissionUpToDate:
		var v, err = doc.Doc.DecodeVersion(cm.Transmission.Version)
		if err != nil {
			return nil
		}
		peer.DocSyncStates[docID] = DocSyncState{Kind: Synced, LastKnownVersion: v, LastUpdated: time.Now()}
		return nil
	case wire.TransmissionUnavailable:
		peer.DocSyncStates[docID] = DocSyncState{Kind: Absent, LastUpdated: time.Now()}
		return nil
	case wire.TransmissionSnapshot, wire.TransmissionUpdate:
		var ctx = p.peerCtx(peer, ch)
		ctx.Document = &rules.DocContext{DocID: docID, Doc: doc.Doc}
		if !p.Rules.CanUpdate(ctx) {
			logging.WithFields(log.Fields{"docId": docID, "peerId": ch.PeerID()}).Warn("sync: permission denied for inbound update")
			return nil
		}
		var v, err = doc.Doc.DecodeVersion(cm.Transmission.Version)
		if err != nil {
			logging.WithFields(log.Fields{"docId": docID, "err": err}).Warn("sync: malformed transmission version")
			return nil
		}
		peer.DocSyncStates[docID] = DocSyncState{Kind: Synced, LastKnownVersion: v, LastUpdated: time.Now()}
		return []Command{
			ImportDocData{DocID: docID, Data: cm.Transmission.Data},
			EmitReadyStateChanged{DocID: docID},
		}
	default:
		return nil
	}
}

// onLocalDocChange schedules an outbound update to every subscribed peer
// that our current version strictly dominates or is concurrent with.
func (p *Program) onLocalDocChange(m *Model, msg LocalDocChange) []Command {
	var doc, ok = m.Documents[msg.DocID]
	if !ok {
		return nil
	}
	var cmds = []Command{EmitReadyStateChanged{DocID: msg.DocID}}
	for _, peer := range m.PeersSubscribedTo(msg.DocID) {
		var state = peer.SyncState(msg.DocID)
		if state.Kind != Synced {
			continue
		}
		var cmp = doc.Doc.Version().Compare(state.LastKnownVersion)
		if cmp != crdt.Dominates && cmp != crdt.Concurrent {
			continue
		}
		var channelID, found = peer.AnyChannelFor()
		if !found {
			continue
		}
		cmds = append(cmds, SendSyncResponse{
			DocID:            msg.DocID,
			RequesterVersion: state.LastKnownVersion,
			ToChannelID:      channelID,
			IncludeEphemeral: false,
		})
	}
	return cmds
}

func (p *Program) onLocalEphemeralChange(m *Model, msg LocalEphemeralChange) []Command {
	var channelIDs []ids.ChannelID
	for _, peer := range m.PeersSubscribedTo(msg.DocID) {
		if channelID, found := peer.AnyChannelFor(); found {
			channelIDs = append(channelIDs, channelID)
		}
	}
	var cmds = []Command{EmitEphemeralChange{
		DocID:     msg.DocID,
		Namespace: msg.Namespace,
		PeerID:    m.Identity.PeerID,
		Source:    SourceLocal,
	}}
	if len(channelIDs) > 0 {
		cmds = append(cmds, BroadcastEphemeralNamespace{
			DocID:         msg.DocID,
			Namespace:     msg.Namespace,
			ToChannelIDs:  channelIDs,
			HopsRemaining: 1,
		})
	}
	return cmds
}

// onAddDocument creates docID if needed and, per rules.CanAnnounce,
// proactively announces it to every already-established peer.
func (p *Program) onAddDocument(m *Model, msg AddDocument) []Command {
	var doc, created = m.GetOrCreateDocument(msg.DocID)
	var cmds = []Command{SubscribeDoc{DocID: msg.DocID}, EmitReadyStateChanged{DocID: msg.DocID}}
	if !created {
		return cmds
	}
	for _, ch := range m.Channels {
		if ch.State() != channel.Established {
			continue
		}
		var peer, ok = m.Peers[ch.PeerID()]
		if !ok {
			continue
		}
		var ctx = p.peerCtx(peer, ch)
		ctx.Document = &rules.DocContext{DocID: msg.DocID, Doc: doc.Doc}
		if !p.Rules.CanAnnounce(ctx) {
			continue
		}
		cmds = append(cmds, sendTo(ch.ID, docMsg(wire.ChannelMessage{Kind: wire.KindNewDoc, DocIDs: []string{msg.DocID.String()}})))
	}
	return cmds
}

func (p *Program) onRemoveDocument(m *Model, msg RemoveDocument) []Command {
	delete(m.Documents, msg.DocID)
	for _, peer := range m.Peers {
		delete(peer.Subscriptions, msg.DocID)
		delete(peer.DocSyncStates, msg.DocID)
	}
	return nil
}

// onHeartbeatTick stops every established channel idle beyond
// ChannelIdleTimeout. A zero ChannelIdleTimeout disables reaping.
func (p *Program) onHeartbeatTick(m *Model, msg HeartbeatTick) []Command {
	if p.ChannelIdleTimeout <= 0 {
		return nil
	}
	var cmds []Command
	for id, ch := range m.Channels {
		if ch.State() != channel.Established {
			continue
		}
		var last, ok = m.LastActivity[id]
		if !ok {
			last = msg.Now
		}
		if msg.Now.Sub(last) >= p.ChannelIdleTimeout {
			cmds = append(cmds, StopChannel{ChannelID: id})
		}
	}
	return cmds
}

func (p *Program) peerCtx(peer *Peer, ch *channel.Channel) rules.Context {
	return rules.Context{Peer: rules.PeerContext{
		PeerID:      peer.Identity.PeerID,
		Name:        peer.Identity.Name,
		Type:        peer.Identity.Type,
		ChannelID:   ch.ID,
		ChannelKind: ch.Kind,
	}}
}
