package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m Message) {
	t.Helper()
	var frame = Encode(m)
	var got, err = Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestRoundTripEstablish(t *testing.T) {
	roundTrip(t, Message{
		Magic: MagicLoro,
		Type:  JoinRequest,
		Identity: Identity{
			PeerID: "42",
			Name:   "alice",
			Type:   "browser",
		},
	})
	roundTrip(t, Message{
		Magic:    MagicLoro,
		Type:     JoinError,
		Reason:   "peerId collides with self",
	})
}

func TestRoundTripLeave(t *testing.T) {
	roundTrip(t, Message{Magic: MagicLoro, Type: Leave})
}

func TestRoundTripUpdateError(t *testing.T) {
	roundTrip(t, Message{
		Magic:     MagicLoro,
		Type:      UpdateError,
		ErrCode:   CodePermission,
		ErrDetail: "canUpdate denied",
	})
	roundTrip(t, Message{
		Magic:     MagicLoro,
		Type:      UpdateError,
		ErrCode:   CodeApp,
		AppCode:   7,
		ErrDetail: "application specific",
	})
}

func TestRoundTripDirectory(t *testing.T) {
	roundTrip(t, Message{
		Magic: MagicLoro,
		Type:  DocUpdate,
		Channel: ChannelMessage{
			Kind: KindDirectoryRequest,
		},
	})
	roundTrip(t, Message{
		Magic: MagicLoro,
		Type:  DocUpdate,
		Channel: ChannelMessage{
			Kind:   KindDirectoryResponse,
			DocIDs: []string{"doc-a", "doc-b"},
		},
	})
	roundTrip(t, Message{
		Magic: MagicLoro,
		Type:  DocUpdate,
		Channel: ChannelMessage{
			Kind:   KindDirectoryResponse,
			DocIDs: []string{}, // edge case: zero-length list
		},
	})
}

func TestRoundTripSyncRequest(t *testing.T) {
	roundTrip(t, Message{
		Magic: MagicLoro,
		Type:  DocUpdate,
		Channel: ChannelMessage{
			Kind: KindSyncRequest,
			SyncDocs: []SyncDoc{
				{DocID: "demo", RequesterVersion: []byte{}}, // edge case: empty version
				{DocID: "other", RequesterVersion: []byte{0x01, 0x02, 0xff}},
			},
			Bidirectional: true,
		},
	})
}

func TestRoundTripSyncResponseTransmissions(t *testing.T) {
	for _, tr := range []Transmission{
		{Kind: TransmissionUpToDate, Version: []byte{0x01}},
		{Kind: TransmissionSnapshot, Data: []byte("hello"), Version: []byte{0x02}},
		{Kind: TransmissionUpdate, Data: []byte{}, Version: []byte{0x03}}, // edge: empty data
		{Kind: TransmissionUnavailable},
	} {
		roundTrip(t, Message{
			Magic: MagicLoro,
			Type:  DocUpdate,
			Channel: ChannelMessage{
				Kind:         KindSyncResponse,
				DocID:        "demo",
				Transmission: tr,
			},
		})
	}
}

func TestRoundTripEphemeral(t *testing.T) {
	roundTrip(t, Message{
		Magic: MagicEphemeral,
		Type:  DocUpdate,
		Channel: ChannelMessage{
			Kind:          KindEphemeral,
			DocID:         "demo",
			HopsRemaining: 3,
			Stores: []EphemeralEntry{
				{PeerID: "1", Namespace: "cursors", Data: []byte(`{"x":1}`)},
				{PeerID: "2", Namespace: "cursors", Data: []byte{}}, // edge: deletion marker
			},
		},
	})
}

func TestRoundTripBatch(t *testing.T) {
	roundTrip(t, Message{
		Magic: MagicLoro,
		Type:  DocUpdate,
		Channel: ChannelMessage{
			Kind: KindBatch,
			Messages: []ChannelMessage{
				{Kind: KindDirectoryRequest},
				{Kind: KindNewDoc, DocIDs: []string{"a"}},
			},
		},
	})
}

func TestFlattenNestedBatch(t *testing.T) {
	var nested = []ChannelMessage{
		{Kind: KindDirectoryRequest},
		{Kind: KindBatch, Messages: []ChannelMessage{
			{Kind: KindNewDoc, DocIDs: []string{"a"}},
			{Kind: KindBatch, Messages: []ChannelMessage{
				{Kind: KindNewDoc, DocIDs: []string{"b"}},
			}},
		}},
	}
	var flat = Flatten(nested)
	require.Len(t, flat, 3)
	for _, m := range flat {
		assert.NotEqual(t, KindBatch, m.Kind)
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrShortFrame)

	_, err = Decode([]byte("xxxx\x01"))
	assert.ErrorIs(t, err, ErrUnknownMagic)

	_, err = Decode(append([]byte(MagicLoro[:]), 0xfe))
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	// Truncated identity: magic + JoinRequest type byte + nothing else.
	_, err = Decode(append([]byte(MagicLoro[:]), byte(JoinRequest)))
	assert.ErrorIs(t, err, ErrTruncatedField)
}

func TestUvarintEdgeLengths(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 1<<64 - 1} {
		var w = NewWriter()
		w.PutUvarint(v)
		var got, err = NewReader(w.Bytes()).Uvarint()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
