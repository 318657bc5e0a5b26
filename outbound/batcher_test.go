package outbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/wire"
)

type fakeSender struct{ sent []adapter.Envelope }

func (f *fakeSender) Send(e adapter.Envelope) (int, error) {
	f.sent = append(f.sent, e)
	return len(e.ToChannelIDs), nil
}

func TestBatcherSendsSingleMessageUnwrapped(t *testing.T) {
	var sender = &fakeSender{}
	var b = NewBatcher(sender, 0)

	b.Enqueue(1, wire.MagicLoro, wire.ChannelMessage{Kind: wire.KindDirectoryRequest})
	b.Flush()

	require.Len(t, sender.sent, 1)
	assert.Equal(t, wire.KindDirectoryRequest, sender.sent[0].Message.Channel.Kind)
}

func TestBatcherCoalescesMultipleMessagesIntoOneBatch(t *testing.T) {
	var sender = &fakeSender{}
	var b = NewBatcher(sender, 0)

	b.Enqueue(1, wire.MagicLoro, wire.ChannelMessage{Kind: wire.KindDirectoryRequest})
	b.Enqueue(1, wire.MagicLoro, wire.ChannelMessage{Kind: wire.KindEphemeral, DocID: "d"})
	b.Flush()

	require.Len(t, sender.sent, 1)
	assert.Equal(t, wire.KindBatch, sender.sent[0].Message.Channel.Kind)
	assert.Len(t, sender.sent[0].Message.Channel.Messages, 2)
}

func TestBatcherFlushClearsQueues(t *testing.T) {
	var sender = &fakeSender{}
	var b = NewBatcher(sender, 0)

	b.Enqueue(1, wire.MagicLoro, wire.ChannelMessage{Kind: wire.KindDirectoryRequest})
	b.Flush()
	assert.False(t, b.Pending())

	sender.sent = nil
	b.Flush()
	assert.Empty(t, sender.sent)
}

func TestBatcherDropsOldestEphemeralOverCap(t *testing.T) {
	var sender = &fakeSender{}
	var b = NewBatcher(sender, 2)

	b.Enqueue(1, wire.MagicEphemeral, wire.ChannelMessage{Kind: wire.KindEphemeral, DocID: "first"})
	b.Enqueue(1, wire.MagicEphemeral, wire.ChannelMessage{Kind: wire.KindEphemeral, DocID: "second"})
	b.Enqueue(1, wire.MagicEphemeral, wire.ChannelMessage{Kind: wire.KindEphemeral, DocID: "third"})
	b.Flush()

	require.Len(t, sender.sent, 1)
	var msgs = sender.sent[0].Message.Channel.Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].DocID)
	assert.Equal(t, "third", msgs[1].DocID)
}

func TestBatcherNeverDropsNonEphemeralOverCap(t *testing.T) {
	var sender = &fakeSender{}
	var b = NewBatcher(sender, 1)

	b.Enqueue(ids.ChannelID(1), wire.MagicLoro, wire.ChannelMessage{Kind: wire.KindSyncRequest})
	b.Enqueue(ids.ChannelID(1), wire.MagicLoro, wire.ChannelMessage{Kind: wire.KindDirectoryRequest})
	b.Flush()

	require.Len(t, sender.sent, 1)
	assert.Len(t, sender.sent[0].Message.Channel.Messages, 2)
}
