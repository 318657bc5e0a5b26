// Package adapter defines the transport/storage plugin contract the
// Synchronizer drives: lifecycle (created -> initialized -> started ->
// stopped), channel creation/removal, and best-effort per-channel Send. A
// Directory aggregates the channels of every registered Adapter so the
// command executor can route an outbound envelope to the right adapter by
// ChannelID alone.
package adapter

import (
	"context"

	"github.com/pkg/errors"

	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/wire"
)

// Hooks are supplied by the Synchronizer to an Adapter at Initialize time.
// The Adapter calls back into these from its own goroutines; every call
// enqueues work on the Synchronizer's scheduler rather than touching the
// model directly (see package sched).
type Hooks struct {
	// ChannelConnected is invoked when the adapter has a new transport-level
	// connection to offer. It registers the channel (in the Connected
	// state) with the Synchronizer's directory and returns it.
	ChannelConnected func(kind channel.Kind, adapterType string, send channel.SendFunc) *channel.Channel
	// Receive delivers a decoded wire.Message arriving on fromChannelID.
	Receive func(fromChannelID ids.ChannelID, msg wire.Message)
	// ChannelRemoved notifies that a channel has been torn down at the
	// transport level (e.g. socket closed) independent of any
	// RemoveChannel call the Synchronizer itself initiated.
	ChannelRemoved func(id ids.ChannelID)
}

// Envelope addresses a single outbound wire.Message to one or more
// channels, as produced by the outbound batcher's flush.
type Envelope struct {
	ToChannelIDs []ids.ChannelID
	Message      wire.Message
}

// Adapter is the transport or storage plugin contract. Implementations
// MUST NOT block the calling goroutine beyond negligible bookkeeping, and
// MUST NOT invoke Hooks after Stop has returned.
type Adapter interface {
	// Type returns the caller-supplied tag identifying this adapter.
	Type() string
	// Initialize binds the Hooks this adapter will call back into. Valid
	// only from Created or Stopped (supporting adapter reuse in tests).
	Initialize(hooks Hooks) error
	// Start begins producing channels; on_start() of the spec. Valid only
	// from Initialized.
	Start(ctx context.Context) error
	// EstablishChannel triggers the establishment handshake for a
	// previously connected channel.
	EstablishChannel(id ids.ChannelID) error
	// RemoveChannel terminally removes a channel. After this call the
	// adapter MUST NOT emit further Hooks for id.
	RemoveChannel(id ids.ChannelID) error
	// Stop releases all resources. After Stop returns, the adapter MUST
	// NOT call back into Hooks.
	Stop() error
	// Send best-effort delivers envelope.Message to each channel in
	// envelope.ToChannelIDs, returning the count actually handed off.
	Send(envelope Envelope) (delivered int, err error)
}

// Lifecycle is embeddable state tracking for the Created -> Initialized ->
// Started -> Stopped sequence shared by every Adapter implementation.
type Lifecycle struct {
	state lifecycleState
}

type lifecycleState int

const (
	stateCreated lifecycleState = iota
	stateInitialized
	stateStarted
	stateStopped
)

// ErrInvalidLifecycleTransition is returned by the Require* helpers when a
// method is invoked from the wrong lifecycle state.
var ErrInvalidLifecycleTransition = errors.New("invalid adapter lifecycle transition")

// RequireCreatedOrStopped validates and advances to Initialized; call from
// Initialize.
func (l *Lifecycle) RequireCreatedOrStopped() error {
	if l.state != stateCreated && l.state != stateStopped {
		return errors.WithMessage(ErrInvalidLifecycleTransition, "initialize")
	}
	l.state = stateInitialized
	return nil
}

// RequireInitialized validates and advances to Started; call from Start.
func (l *Lifecycle) RequireInitialized() error {
	if l.state != stateInitialized {
		return errors.WithMessage(ErrInvalidLifecycleTransition, "start")
	}
	l.state = stateStarted
	return nil
}

// RequireStarted validates that the adapter is Started, without
// transitioning; call from EstablishChannel/RemoveChannel/Send.
func (l *Lifecycle) RequireStarted() error {
	if l.state != stateStarted {
		return errors.WithMessage(ErrInvalidLifecycleTransition, "not started")
	}
	return nil
}

// Stop transitions to Stopped unconditionally; call from Stop.
func (l *Lifecycle) Stop() { l.state = stateStopped }

// Started reports whether the adapter is currently in the Started state.
func (l *Lifecycle) Started() bool { return l.state == stateStarted }
