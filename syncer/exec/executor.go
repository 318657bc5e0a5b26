// Package exec runs the imperative Commands produced by syncer.Program's
// pure Update: it is the only place in this module that touches adapters,
// the ephemeral store, and the outbound batcher. Every handler is driven
// from the single scheduler goroutine (see package sched), so none of this
// package's state needs its own locking.
package exec

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ephemeral"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/internal/logging"
	"go.gazette.dev/sync/internal/metrics"
	"go.gazette.dev/sync/outbound"
	"go.gazette.dev/sync/sched"
	"go.gazette.dev/sync/syncer"
	"go.gazette.dev/sync/wire"
)

// Events is the Repo façade's sink for state the caller should learn
// about: readiness and presence changes for a document.
type Events interface {
	ReadyStateChanged(docID ids.DocID, states []syncer.ReadyState)
	EphemeralChanged(docID ids.DocID, namespace string, peerID ids.PeerID, source syncer.ChangeSource)
}

// Executor owns the Model, runs Update for every dispatched Msg on the
// Scheduler's goroutine, and executes the resulting Commands against the
// adapter Directory, the ephemeral Store, and the outbound Batcher.
type Executor struct {
	Model     *syncer.Model
	Program   *syncer.Program
	Directory *adapter.Directory
	Ephemeral *ephemeral.Store
	Outbound  *outbound.Batcher
	Events    Events
	Scheduler *sched.Scheduler
	Now       func() time.Time
	Metrics   *metrics.Metrics
}

// New wires an Executor's Scheduler to flush Outbound on every quiescence.
func New(model *syncer.Model, program *syncer.Program, dir *adapter.Directory, eph *ephemeral.Store, ob *outbound.Batcher, events Events) *Executor {
	var e = &Executor{
		Model:     model,
		Program:   program,
		Directory: dir,
		Ephemeral: eph,
		Outbound:  ob,
		Events:    events,
		Now:       time.Now,
	}
	e.Scheduler = sched.New(e.Outbound.Flush)
	return e
}

// WithMetrics attaches m, used to count outbound messages and track
// channel lifecycle state. A nil Executor.Metrics (the default) disables
// all recording.
func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	e.Metrics = m
	return e
}

func (e *Executor) observeSent(adapterType string, msgType wire.MessageType) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.MessagesSent.WithLabelValues(adapterType, msgType.String()).Inc()
}

// Dispatch enqueues msg to run Update (and its resulting Commands) on the
// scheduler's goroutine. Safe to call from any goroutine.
func (e *Executor) Dispatch(msg syncer.Msg) {
	e.DispatchWithPrep(func() {}, msg)
}

// DispatchWithPrep runs prep synchronously on the scheduler goroutine
// immediately before applying msg through Update, in the same task. Used
// when a Command's correctness depends on state outside the Model (e.g.
// the ephemeral Store) being updated before Update computes its Commands
// -- see Handle.Emit, which writes the local presence entry here before
// dispatching LocalEphemeralChange.
func (e *Executor) DispatchWithPrep(prep func(), msg syncer.Msg) {
	e.Scheduler.Dispatch(func() {
		prep()
		var cmds = e.Program.Update(e.Model, msg)
		e.executeAll(cmds, false)
	})
}

func (e *Executor) executeAll(cmds []syncer.Command, atomic bool) {
	for _, c := range cmds {
		if err := e.executeOne(c); err != nil {
			logging.WithFields(log.Fields{"err": err, "command": fmt.Sprintf("%T", c)}).Warn("exec: command failed")
			if atomic {
				return
			}
		}
	}
}

func (e *Executor) executeOne(c syncer.Command) error {
	switch c := c.(type) {
	case syncer.Batch:
		e.executeAll(c.Commands, c.Atomic)
		return nil
	case syncer.StopChannel:
		return e.stopChannel(c)
	case syncer.SendMessage:
		return e.sendMessage(c)
	case syncer.SendSyncRequest:
		return e.sendSyncRequest(c)
	case syncer.SendSyncResponse:
		return e.sendSyncResponse(c)
	case syncer.BroadcastEphemeralNamespace:
		return e.broadcastEphemeralNamespace(c)
	case syncer.ApplyEphemeral:
		return e.applyEphemeral(c)
	case syncer.RemoveEphemeralPeer:
		return e.removeEphemeralPeer(c)
	case syncer.ImportDocData:
		return e.importDocData(c)
	case syncer.EmitReadyStateChanged:
		e.Events.ReadyStateChanged(c.DocID, syncer.ComputeReadyStates(e.Model, c.DocID))
		return nil
	case syncer.EmitEphemeralChange:
		e.Events.EphemeralChanged(c.DocID, c.Namespace, c.PeerID, c.Source)
		return nil
	case syncer.SubscribeDoc:
		return e.subscribeDoc(c)
	default:
		logging.WithFields(log.Fields{"command": c}).Warn("exec: unknown command type")
		return nil
	}
}

// ObserveChannelState records ch's current lifecycle state for adapterType
// in the channels-by-state gauge. Exported so package repo can call it from
// the adapter ChannelConnected hook, where the channel is created outside
// any Command.
func (e *Executor) ObserveChannelState(adapterType string, state channel.State) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.ChannelsByState.WithLabelValues(adapterType, state.String()).Inc()
}

func (e *Executor) stopChannel(c syncer.StopChannel) error {
	var ch, ok = e.Model.Channels[c.ChannelID]
	if !ok {
		return nil
	}
	var adapterType = ch.AdapterType
	ch.Stop()
	if e.Metrics != nil {
		e.Metrics.ChannelsByState.WithLabelValues(adapterType, ch.State().String()).Inc()
	}
	if owner, ok := e.Directory.Owner(c.ChannelID); ok {
		if err := owner.RemoveChannel(c.ChannelID); err != nil {
			logging.WithFields(log.Fields{"channelId": c.ChannelID, "err": err}).Warn("exec: remove channel failed")
		}
	}
	e.Directory.Remove(c.ChannelID)

	var cmds = e.Program.Update(e.Model, syncer.PeerDeparted{ChannelID: c.ChannelID})
	e.executeAll(cmds, false)
	return nil
}

// sendMessage enqueues a DocUpdate's channel message on the outbound
// batcher (flattening any pre-built batch), or sends establishment/Leave/
// error frames immediately -- those are latency-sensitive and not subject
// to quiescence coalescing.
func (e *Executor) sendMessage(c syncer.SendMessage) error {
	var msg = c.Envelope.Message
	for _, channelID := range c.Envelope.ToChannelIDs {
		if owner, ok := e.Directory.Owner(channelID); ok {
			e.observeSent(owner.Type(), msg.Type)
		}
	}
	if msg.Type != wire.DocUpdate {
		_, err := e.Directory.Send(c.Envelope)
		return err
	}
	for _, inner := range wire.Flatten([]wire.ChannelMessage{msg.Channel}) {
		for _, channelID := range c.Envelope.ToChannelIDs {
			e.Outbound.Enqueue(channelID, msg.Magic, inner)
		}
	}
	return nil
}

func (e *Executor) sendSyncRequest(c syncer.SendSyncRequest) error {
	var cm = wire.ChannelMessage{Kind: wire.KindSyncRequest, SyncDocs: c.Docs, Bidirectional: c.Bidirectional}
	e.Outbound.Enqueue(c.ToChannelID, wire.MagicLoro, cm)
	if c.IncludeEphemeral {
		for _, sd := range c.Docs {
			e.enqueueEphemeralSnapshot(ids.DocID(sd.DocID), c.ToChannelID)
		}
	}
	return nil
}

// sendSyncResponse builds the four-way transmission for docID relative to
// requesterVersion and enqueues it; a document not held locally gets the
// unavailable transmission.
func (e *Executor) sendSyncResponse(c syncer.SendSyncResponse) error {
	var doc, ok = e.Model.Documents[c.DocID]
	var transmission wire.Transmission
	if !ok {
		transmission = wire.Transmission{Kind: wire.TransmissionUnavailable}
	} else {
		var local = doc.Doc.Version()
		switch {
		case c.RequesterVersion == nil || c.RequesterVersion.IsEmpty():
			var data, err = doc.Doc.Snapshot()
			if err != nil {
				return errors.WithMessage(err, "snapshot")
			}
			transmission = wire.Transmission{Kind: wire.TransmissionSnapshot, Data: data, Version: local.Bytes()}
		default:
			switch local.Compare(c.RequesterVersion) {
			case crdt.Equal:
				transmission = wire.Transmission{Kind: wire.TransmissionUpToDate, Version: local.Bytes()}
			case crdt.Dominates:
				var data, err = doc.Doc.ExportSince(c.RequesterVersion)
				if err != nil {
					return errors.WithMessage(err, "export since")
				}
				transmission = wire.Transmission{Kind: wire.TransmissionUpdate, Data: data, Version: local.Bytes()}
			case crdt.Dominated:
				// The requester already has everything we have; nothing to
				// send from our side. Their own bidirectional sync-request
				// (sent alongside theirs) is what pulls us current.
				transmission = wire.Transmission{Kind: wire.TransmissionUpToDate, Version: local.Bytes()}
			case crdt.Concurrent:
				var data, err = doc.Doc.Snapshot()
				if err != nil {
					return errors.WithMessage(err, "snapshot")
				}
				transmission = wire.Transmission{Kind: wire.TransmissionSnapshot, Data: data, Version: local.Bytes()}
			}
		}
	}

	var cm = wire.ChannelMessage{Kind: wire.KindSyncResponse, DocID: c.DocID.String(), Transmission: transmission}
	e.Outbound.Enqueue(c.ToChannelID, wire.MagicLoro, cm)
	if c.IncludeEphemeral {
		e.enqueueEphemeralSnapshot(c.DocID, c.ToChannelID)
	}
	return nil
}

func (e *Executor) enqueueEphemeralSnapshot(docID ids.DocID, toChannelID ids.ChannelID) {
	for _, namespace := range e.Ephemeral.Namespaces(docID) {
		var entries = e.Ephemeral.EncodeNamespace(docID, namespace, e.Now())
		if len(entries) == 0 {
			continue
		}
		var cm = wire.ChannelMessage{Kind: wire.KindEphemeral, DocID: docID.String(), HopsRemaining: 1, Stores: entries}
		e.Outbound.Enqueue(toChannelID, wire.MagicEphemeral, cm)
	}
}

func (e *Executor) broadcastEphemeralNamespace(c syncer.BroadcastEphemeralNamespace) error {
	var entries = e.Ephemeral.EncodeNamespace(c.DocID, c.Namespace, e.Now())
	var cm = wire.ChannelMessage{Kind: wire.KindEphemeral, DocID: c.DocID.String(), HopsRemaining: c.HopsRemaining, Stores: entries}
	for _, channelID := range c.ToChannelIDs {
		e.Outbound.Enqueue(channelID, wire.MagicEphemeral, cm)
	}
	return nil
}

func (e *Executor) applyEphemeral(c syncer.ApplyEphemeral) error {
	var now = e.Now()
	for _, store := range c.Stores {
		var peerID = ids.PeerID(store.PeerID)
		e.Ephemeral.Set(c.DocID, store.Namespace, peerID, store.Data, now)
		if len(store.Data) == 0 {
			logging.WithFields(log.Fields{"docId": c.DocID, "namespace": store.Namespace, "peerId": peerID}).Debug("exec: ephemeral entry deleted")
		}
		e.Events.EphemeralChanged(c.DocID, store.Namespace, peerID, syncer.SourceRemote)
	}
	return nil
}

func (e *Executor) removeEphemeralPeer(c syncer.RemoveEphemeralPeer) error {
	for _, aff := range e.Ephemeral.RemovePeer(c.PeerID) {
		var channelIDs []ids.ChannelID
		for _, peer := range e.Model.PeersSubscribedTo(aff.DocID) {
			if channelID, ok := peer.AnyChannelFor(); ok {
				channelIDs = append(channelIDs, channelID)
			}
		}
		if len(channelIDs) == 0 {
			continue
		}
		var cm = wire.ChannelMessage{
			Kind:          wire.KindEphemeral,
			DocID:         aff.DocID.String(),
			HopsRemaining: 1,
			Stores:        []wire.EphemeralEntry{{PeerID: c.PeerID.String(), Namespace: aff.Namespace}},
		}
		for _, channelID := range channelIDs {
			e.Outbound.Enqueue(channelID, wire.MagicEphemeral, cm)
		}
	}
	return nil
}

func (e *Executor) importDocData(c syncer.ImportDocData) error {
	var doc, ok = e.Model.Documents[c.DocID]
	if !ok {
		return nil
	}
	return doc.Doc.Import(c.Data)
}

func (e *Executor) subscribeDoc(c syncer.SubscribeDoc) error {
	var doc, ok = e.Model.Documents[c.DocID]
	if !ok {
		return nil
	}
	doc.Doc.Subscribe(func() {
		e.Dispatch(syncer.LocalDocChange{DocID: c.DocID})
	})
	return nil
}
