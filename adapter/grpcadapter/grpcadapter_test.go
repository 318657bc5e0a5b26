package grpcadapter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/wire"
)

func TestDialerListenerRoundTrip(t *testing.T) {
	var lis, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var serverReceived = make(chan wire.Message, 1)
	var serverAdapter = NewListener(lis)
	require.NoError(t, serverAdapter.Initialize(adapter.Hooks{
		ChannelConnected: func(kind channel.Kind, adapterType string, send channel.SendFunc) *channel.Channel {
			return channel.New(1, adapterType, kind)
		},
		Receive:        func(fromChannelID ids.ChannelID, msg wire.Message) { serverReceived <- msg },
		ChannelRemoved: func(ids.ChannelID) {},
	}))

	var clientReceived = make(chan wire.Message, 1)
	var clientAdapter = NewDialer(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, clientAdapter.Initialize(adapter.Hooks{
		ChannelConnected: func(kind channel.Kind, adapterType string, send channel.SendFunc) *channel.Channel {
			return channel.New(1, adapterType, kind)
		},
		Receive:        func(fromChannelID ids.ChannelID, msg wire.Message) { clientReceived <- msg },
		ChannelRemoved: func(ids.ChannelID) {},
	}))

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, serverAdapter.Start(ctx))
	defer serverAdapter.Stop()
	require.NoError(t, clientAdapter.Start(ctx))
	defer clientAdapter.Stop()

	// Give the dialer's stream a moment to reach the listener before
	// addressing it by channel id.
	require.Eventually(t, func() bool {
		clientAdapter.mu.Lock()
		defer clientAdapter.mu.Unlock()
		return len(clientAdapter.streams) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var clientChannelID ids.ChannelID
	for id := range clientAdapter.streams {
		clientChannelID = id
	}

	var sent = wire.Message{Type: wire.Leave}
	_, sendErr := clientAdapter.Send(adapter.Envelope{ToChannelIDs: []ids.ChannelID{clientChannelID}, Message: sent})
	require.NoError(t, sendErr)

	select {
	case got := <-serverReceived:
		assert.Equal(t, wire.Leave, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}
}
