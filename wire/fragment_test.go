package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reassembleAll(t *testing.T, pieces [][]byte) []byte {
	t.Helper()
	var r = NewReassembler(8)
	for _, p := range pieces {
		var frame, complete, err = r.Feed(p)
		require.NoError(t, err)
		if complete {
			return frame
		}
	}
	t.Fatal("reassembly never completed")
	return nil
}

func TestFragmentRoundTripVariousMTUs(t *testing.T) {
	var frame = Encode(Message{
		Magic: MagicLoro,
		Type:  DocUpdate,
		Channel: ChannelMessage{
			Kind:  KindSyncResponse,
			DocID: "demo",
			Transmission: Transmission{
				Kind:    TransmissionSnapshot,
				Data:    bytes.Repeat([]byte{0xab}, 3*1<<20), // 3MB
				Version: []byte{0x01, 0x02},
			},
		},
	})

	for _, mtu := range []int{64, 256, 4096, 65536, len(frame) + 64} {
		var pieces = Fragment(frame, mtu, 1)
		var got = reassembleAll(t, pieces)
		assert.Equal(t, frame, got, "mtu=%d", mtu)
	}
}

func TestFragmentSmallMessageIsSinglePiece(t *testing.T) {
	var frame = Encode(Message{Magic: MagicLoro, Type: Leave})
	var pieces = Fragment(frame, 4096, 1)
	require.Len(t, pieces, 1)
	assert.Equal(t, PrefixComplete, TransportPrefix(pieces[0][0]))
}

func TestReassemblerDropsOutOfRangeFragmentIndex(t *testing.T) {
	var r = NewReassembler(8)

	var header = NewWriter()
	header.PutByte(byte(PrefixFragmentHeader))
	header.PutUvarint(1) // messageID
	header.PutUvarint(2) // totalFragments
	_, complete, err := r.Feed(header.Bytes())
	require.NoError(t, err)
	require.False(t, complete)

	var bad = NewWriter()
	bad.PutByte(byte(PrefixFragmentData))
	bad.PutUvarint(1) // messageID
	bad.PutUvarint(5) // fragmentIndex >= totalFragments
	bad.PutRaw([]byte("x"))
	_, complete, err = r.Feed(bad.Bytes())
	assert.ErrorIs(t, err, ErrFragmentConflict)
	assert.False(t, complete)
}

func TestReassemblerRejectsConflictingHeader(t *testing.T) {
	var r = NewReassembler(8)

	var h1 = NewWriter()
	h1.PutByte(byte(PrefixFragmentHeader))
	h1.PutUvarint(1)
	h1.PutUvarint(2)
	_, _, err := r.Feed(h1.Bytes())
	require.NoError(t, err)

	var h2 = NewWriter()
	h2.PutByte(byte(PrefixFragmentHeader))
	h2.PutUvarint(1)
	h2.PutUvarint(3) // conflicting total
	_, _, err = r.Feed(h2.Bytes())
	assert.ErrorIs(t, err, ErrFragmentConflict)
}

func TestReassemblerMessageCompleteDoesNotDisturbPendingFragments(t *testing.T) {
	var r = NewReassembler(8)

	var h = NewWriter()
	h.PutByte(byte(PrefixFragmentHeader))
	h.PutUvarint(1)
	h.PutUvarint(2)
	_, _, err := r.Feed(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 1, r.InFlight())

	var complete = NewWriter()
	complete.PutByte(byte(PrefixComplete))
	complete.PutRaw([]byte("unrelated"))
	frame, isComplete, err := r.Feed(complete.Bytes())
	require.NoError(t, err)
	assert.True(t, isComplete)
	assert.Equal(t, []byte("unrelated"), frame)

	assert.Equal(t, 1, r.InFlight(), "pending fragment session must survive")
}

func TestReassemblerEvictsOldestOnOverflow(t *testing.T) {
	var r = NewReassembler(2)
	for id := uint64(1); id <= 3; id++ {
		var h = NewWriter()
		h.PutByte(byte(PrefixFragmentHeader))
		h.PutUvarint(id)
		h.PutUvarint(2)
		_, _, err := r.Feed(h.Bytes())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, r.InFlight(), "oldest session must have been evicted")
}
