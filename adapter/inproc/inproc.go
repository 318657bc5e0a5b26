// Package inproc implements a reference Adapter that delivers messages
// directly between two in-process Repos, bypassing real network I/O. It
// is the adapter used by the end-to-end scenario tests and is a useful
// worked example for anyone writing a real transport adapter.
package inproc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/wire"
)

// Adapter pairs with exactly one peer Adapter via Pair. Once started, a
// Connect call on either side establishes a channel on both.
type Adapter struct {
	lc adapter.Lifecycle

	mu    sync.Mutex
	hooks adapter.Hooks
	peer  *Adapter
	conns map[ids.ChannelID]ids.ChannelID // local channel id -> peer's channel id
}

// New returns an unpaired, uninitialized Adapter.
func New() *Adapter { return &Adapter{conns: make(map[ids.ChannelID]ids.ChannelID)} }

// Pair links a and b so that a channel Connected on one delivers to the
// other. Pair must be called before either Adapter is Started.
func Pair(a, b *Adapter) {
	a.peer = b
	b.peer = a
}

// Type implements adapter.Adapter.
func (a *Adapter) Type() string { return "inproc" }

// Initialize implements adapter.Adapter.
func (a *Adapter) Initialize(hooks adapter.Hooks) error {
	if err := a.lc.RequireCreatedOrStopped(); err != nil {
		return err
	}
	a.mu.Lock()
	a.hooks = hooks
	a.mu.Unlock()
	return nil
}

// Start implements adapter.Adapter. inproc has nothing to listen on; it
// only needs to be marked Started so Connect/Send become valid.
func (a *Adapter) Start(ctx context.Context) error {
	return a.lc.RequireInitialized()
}

// Connect establishes a new paired channel: one local Channel on a, one on
// a.peer, wired so a Send on either side's Channel reaches the other's
// Receive hook directly.
func (a *Adapter) Connect() (ids.ChannelID, error) {
	if err := a.lc.RequireStarted(); err != nil {
		return 0, err
	}
	if a.peer == nil {
		return 0, errors.New("inproc: adapter is not paired")
	}

	var localCh, remoteCh *channel.Channel

	localCh = a.hooks.ChannelConnected(channel.KindNetwork, a.Type(), func(msg wire.Message) error {
		a.peer.hooks.Receive(remoteCh.ID, msg)
		return nil
	})
	remoteCh = a.peer.hooks.ChannelConnected(channel.KindNetwork, a.peer.Type(), func(msg wire.Message) error {
		a.hooks.Receive(localCh.ID, msg)
		return nil
	})

	a.mu.Lock()
	a.conns[localCh.ID] = remoteCh.ID
	a.mu.Unlock()

	a.peer.mu.Lock()
	a.peer.conns[remoteCh.ID] = localCh.ID
	a.peer.mu.Unlock()

	return localCh.ID, nil
}

// EstablishChannel implements adapter.Adapter. inproc channels need no
// separate establishment step at the transport level; establishment is
// driven entirely by the Synchronizer's JoinRequest/JoinResponseOk
// exchange over the already-connected SendFunc.
func (a *Adapter) EstablishChannel(id ids.ChannelID) error { return nil }

// RemoveChannel implements adapter.Adapter.
func (a *Adapter) RemoveChannel(id ids.ChannelID) error {
	a.mu.Lock()
	delete(a.conns, id)
	a.mu.Unlock()
	return nil
}

// Stop implements adapter.Adapter.
func (a *Adapter) Stop() error {
	a.lc.Stop()
	return nil
}

// Send implements adapter.Adapter for the batched (outbound.Batcher) path:
// each ToChannelIDs entry is resolved to its paired peer channel and
// delivered straight to the peer's Receive hook.
func (a *Adapter) Send(envelope adapter.Envelope) (delivered int, err error) {
	if sendErr := a.lc.RequireStarted(); sendErr != nil {
		return 0, sendErr
	}
	a.mu.Lock()
	var peer = a.peer
	a.mu.Unlock()
	if peer == nil {
		return 0, errors.New("inproc: adapter is not paired")
	}

	for _, channelID := range envelope.ToChannelIDs {
		a.mu.Lock()
		var remoteID, ok = a.conns[channelID]
		a.mu.Unlock()
		if !ok {
			err = errors.Errorf("inproc: channel %s not connected", channelID)
			continue
		}
		peer.hooks.Receive(remoteID, envelope.Message)
		delivered++
	}
	return delivered, err
}
