package exec

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ephemeral"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/internal/metrics"
	"go.gazette.dev/sync/outbound"
	"go.gazette.dev/sync/rules"
	"go.gazette.dev/sync/syncer"
	"go.gazette.dev/sync/wire"
)

// stubAdapter records every envelope handed to Send; it never actually
// delivers anywhere, matching a storage-kind adapter under test.
type stubAdapter struct {
	typ  string
	sent []adapter.Envelope
}

func (s *stubAdapter) Type() string                        { return s.typ }
func (s *stubAdapter) Initialize(adapter.Hooks) error       { return nil }
func (s *stubAdapter) Start(context.Context) error          { return nil }
func (s *stubAdapter) EstablishChannel(ids.ChannelID) error { return nil }
func (s *stubAdapter) RemoveChannel(ids.ChannelID) error    { return nil }
func (s *stubAdapter) Stop() error                          { return nil }
func (s *stubAdapter) Send(e adapter.Envelope) (int, error) {
	s.sent = append(s.sent, e)
	return len(e.ToChannelIDs), nil
}

// stubEvents records every callback Executor fires, standing in for the
// Repo façade.
type stubEvents struct {
	ready     []syncer.ReadyState
	ephemeral int
}

func (s *stubEvents) ReadyStateChanged(docID ids.DocID, states []syncer.ReadyState) {
	s.ready = append(s.ready, states...)
}
func (s *stubEvents) EphemeralChanged(ids.DocID, string, ids.PeerID, syncer.ChangeSource) {
	s.ephemeral++
}

func newTestExecutor(t *testing.T) (*Executor, *stubAdapter, *stubEvents) {
	t.Helper()
	var identity = syncer.Identity{PeerID: "self", Name: "test", Type: "test"}
	var model = syncer.NewModel(identity, func(ids.DocID) crdt.Doc { return crdt.NewText("self") })
	var program = syncer.NewProgram(rules.Default(), 0)
	var dir = adapter.NewDirectory()
	var eph = ephemeral.NewStore(0)
	var batcher = outbound.NewBatcher(dir, 0)
	var events = &stubEvents{}
	var e = New(model, program, dir, eph, batcher, events)

	var a = &stubAdapter{typ: "stub"}
	dir.RegisterAdapter(a)
	return e, a, events
}

// runSync applies msg through Update and executes its Commands directly on
// the calling goroutine, bypassing the Scheduler -- the same thing
// DispatchWithPrep does, just without needing Run started in a background
// goroutine for a unit test.
func runSync(e *Executor, msg syncer.Msg) {
	var cmds = e.Program.Update(e.Model, msg)
	e.executeAll(cmds, false)
}

func TestDispatchAddDocumentEmitsReadyState(t *testing.T) {
	var e, _, events = newTestExecutor(t)

	runSync(e, syncer.AddDocument{DocID: "doc-1"})

	require.NotEmpty(t, events.ready)
	assert.Contains(t, e.Model.Documents, ids.DocID("doc-1"))
}

func TestObserveChannelStateRecordsGauge(t *testing.T) {
	var e, _, _ = newTestExecutor(t)
	var m = metrics.New(prometheus.NewRegistry())
	e.WithMetrics(m)

	e.ObserveChannelState("stub", channel.Connected)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChannelsByState.WithLabelValues("stub", channel.Connected.String())))
}

func TestSendMessageRoutesNonDocUpdateImmediately(t *testing.T) {
	var e, a, _ = newTestExecutor(t)
	var m = metrics.New(prometheus.NewRegistry())
	e.WithMetrics(m)

	var ch = channel.New(1, "stub", channel.KindNetwork)
	require.NoError(t, ch.Connect(func(wire.Message) error { return nil }))
	e.Directory.Add(ch, a)

	var msg = wire.Message{Type: wire.Leave}
	var err = e.sendMessage(syncer.SendMessage{Envelope: adapter.Envelope{
		ToChannelIDs: []ids.ChannelID{1},
		Message:      msg,
	}})
	require.NoError(t, err)
	require.Len(t, a.sent, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesSent.WithLabelValues("stub", wire.Leave.String())))
}

// TestSendSyncResponseUnavailableForAbsentDocument exercises the literal
// sync-response{unavailable} path: a SendSyncResponse for a DocID the
// Model never created reaches the !ok branch directly, with no empty
// document fabricated as a side effect.
func TestSendSyncResponseUnavailableForAbsentDocument(t *testing.T) {
	var e, a, _ = newTestExecutor(t)

	var ch = channel.New(3, "stub", channel.KindNetwork)
	require.NoError(t, ch.Connect(func(wire.Message) error { return nil }))
	e.Directory.Add(ch, a)

	require.NoError(t, e.sendSyncResponse(syncer.SendSyncResponse{
		DocID:       ids.DocID("never-held"),
		ToChannelID: ch.ID,
	}))
	e.Outbound.Flush()

	require.Len(t, a.sent, 1)
	assert.Equal(t, wire.TransmissionUnavailable, a.sent[0].Message.Channel.Transmission.Kind)
	assert.NotContains(t, e.Model.Documents, ids.DocID("never-held"))
}

func TestStopChannelRemovesFromDirectoryAndModel(t *testing.T) {
	var e, a, _ = newTestExecutor(t)

	var ch = channel.New(2, "stub", channel.KindNetwork)
	require.NoError(t, ch.Connect(func(wire.Message) error { return nil }))
	e.Directory.Add(ch, a)
	e.Model.Channels[ch.ID] = ch

	require.NoError(t, e.stopChannel(syncer.StopChannel{ChannelID: ch.ID}))

	_, stillThere := e.Directory.Get(ch.ID)
	assert.False(t, stillThere)
	assert.Equal(t, channel.Stopped, ch.State())
	assert.NotContains(t, e.Model.Channels, ch.ID)
}
