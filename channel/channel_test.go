package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/wire"
)

func TestLifecycleMonotonic(t *testing.T) {
	var c = New(1, "inproc", KindNetwork)
	assert.Equal(t, Generated, c.State())

	assert.ErrorIs(t, c.Establish("1"), ErrInvalidTransition)

	var sent []wire.Message
	require.NoError(t, c.Connect(func(m wire.Message) error {
		sent = append(sent, m)
		return nil
	}))
	assert.Equal(t, Connected, c.State())
	assert.False(t, c.MayExchange())

	require.NoError(t, c.Establish("42"))
	assert.Equal(t, Established, c.State())
	assert.Equal(t, ids.PeerID("42"), c.PeerID())
	assert.True(t, c.MayExchange())

	require.NoError(t, c.Send(wire.Message{Type: wire.DocUpdate, Channel: wire.ChannelMessage{Kind: wire.KindDirectoryRequest}}))
	require.Len(t, sent, 1)

	c.Stop()
	assert.Equal(t, Stopped, c.State())
	assert.ErrorIs(t, c.Send(wire.Message{}), ErrChannelStopped)

	// Re-connecting a stopped channel is not a valid transition; channels
	// are single-use by design (a fresh Channel models a reconnection).
	assert.ErrorIs(t, c.Connect(func(wire.Message) error { return nil }), ErrInvalidTransition)
}
