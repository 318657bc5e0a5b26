package ephemeral

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndAll(t *testing.T) {
	var s = NewStore(0)
	var now = time.Unix(0, 0)

	s.Set("d", "cursor", "1", []byte(`{"x":1}`), now)
	s.Set("d", "cursor", "2", []byte(`{"x":2}`), now)

	var all = s.All("d", "cursor", now)
	require.Len(t, all, 2)
	assert.Equal(t, []byte(`{"x":1}`), all["1"])
}

func TestEmptyDataDeletesEntry(t *testing.T) {
	var s = NewStore(0)
	var now = time.Unix(0, 0)

	s.Set("d", "cursor", "1", []byte("x"), now)
	s.Set("d", "cursor", "1", nil, now)

	assert.Empty(t, s.All("d", "cursor", now))
}

func TestRemovePeerSweepsEveryNamespace(t *testing.T) {
	var s = NewStore(0)
	var now = time.Unix(0, 0)

	s.Set("d1", "cursor", "1", []byte("a"), now)
	s.Set("d1", "selection", "1", []byte("b"), now)
	s.Set("d2", "cursor", "1", []byte("c"), now)
	s.Set("d1", "cursor", "2", []byte("other"), now)

	var affected = s.RemovePeer("1")
	assert.Len(t, affected, 3)
	assert.Empty(t, s.All("d1", "cursor", now)["1"])
	assert.NotEmpty(t, s.All("d1", "cursor", now)["2"])
}

func TestTTLExpiry(t *testing.T) {
	var s = NewStore(time.Minute)
	var now = time.Unix(0, 0)

	s.Set("d", "cursor", "1", []byte("x"), now)
	assert.Len(t, s.All("d", "cursor", now.Add(30*time.Second)), 1)
	assert.Empty(t, s.All("d", "cursor", now.Add(2*time.Minute)))

	s.PurgeExpired(now.Add(2 * time.Minute))
	assert.Empty(t, s.All("d", "cursor", now.Add(2*time.Minute)))
}

func TestEncodeNamespace(t *testing.T) {
	var s = NewStore(0)
	var now = time.Unix(0, 0)
	s.Set("d", "cursor", "7", []byte("v"), now)

	var entries = s.EncodeNamespace("d", "cursor", now)
	require.Len(t, entries, 1)
	assert.Equal(t, "7", entries[0].PeerID)
	assert.Equal(t, "cursor", entries[0].Namespace)
	assert.Equal(t, []byte("v"), entries[0].Data)
}
