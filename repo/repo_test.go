package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/internal/config"
	"go.gazette.dev/sync/syncer"
)

func newTestRepo(t *testing.T, peerID string) *Repo {
	t.Helper()
	var cfg = config.Default()
	cfg.HeartbeatInterval = 0

	var r, err = New(Config{
		Identity: syncer.Identity{PeerID: ids.PeerID(peerID), Name: "test-" + peerID, Type: "test"},
		Config:   cfg,
		NewDoc:   func(ids.DocID) crdt.Doc { return crdt.NewText(peerID) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Disconnect(context.Background()) })
	return r
}

func TestGetReturnsSameHandleForSameDoc(t *testing.T) {
	var r = newTestRepo(t, "p1")

	var a = r.Get("doc-a")
	var b = r.Get("doc-a")
	assert.Same(t, a, b)

	var other = r.Get("doc-b")
	assert.NotSame(t, a, other)
}

func TestDeleteDropsHandleAndDocument(t *testing.T) {
	var r = newTestRepo(t, "p1")
	r.Get("doc-a")

	require.NoError(t, r.Delete("doc-a"))

	r.mu.Lock()
	_, stillTracked := r.handles["doc-a"]
	r.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	var r = newTestRepo(t, "p1")
	require.NoError(t, r.Disconnect(context.Background()))
	require.NoError(t, r.Disconnect(context.Background()))

	assert.ErrorIs(t, r.Delete("doc-a"), ErrClosed)
}

func TestHandleChangeMutatesDocSynchronously(t *testing.T) {
	var r = newTestRepo(t, "p1")
	var h = r.Get("doc-a")

	h.Change(func(doc crdt.Doc) { doc.(*crdt.Text).Append("hello") })

	var value string
	h.Change(func(doc crdt.Doc) { value = doc.(*crdt.Text).Value() })
	assert.Equal(t, "hello", value)
}

func TestHandleWaitUntilReadyRespectsCustomPredicate(t *testing.T) {
	var r = newTestRepo(t, "p1")
	var h = r.Get("doc-a")

	var ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, h.WaitUntilReady(ctx, func(states []syncer.ReadyState) bool {
		for _, s := range states {
			if s.PeerID == "" {
				return true
			}
		}
		return false
	}))
}

func TestHandleWaitUntilReadyTimesOutWhenPredicateNeverSatisfied(t *testing.T) {
	var r = newTestRepo(t, "p1")
	var h = r.Get("doc-a")

	var ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var err = h.WaitUntilReady(ctx, func([]syncer.ReadyState) bool { return false })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOnReadyStateChangeFiresAfterAddDocument(t *testing.T) {
	var r = newTestRepo(t, "p1")

	var got = make(chan []syncer.ReadyState, 1)
	var h = r.Get("doc-a")
	h.OnReadyStateChange(func(states []syncer.ReadyState) {
		select {
		case got <- states:
		default:
		}
	})

	// Get's AddDocument dispatch may have already emitted a ready-state
	// change before the callback above was registered; mutating the doc
	// triggers its Subscribe hook, which dispatches LocalDocChange and
	// guarantees a ready-state emission after registration.
	h.Change(func(doc crdt.Doc) { doc.(*crdt.Text).Append("x") })

	select {
	case states := <-got:
		require.NotEmpty(t, states)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ready state callback")
	}
}
