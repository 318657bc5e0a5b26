package inproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/internal/config"
	"go.gazette.dev/sync/repo"
	"go.gazette.dev/sync/rules"
	"go.gazette.dev/sync/syncer"
)

func mustRepo(t *testing.T, peerID string, a *Adapter) *repo.Repo {
	t.Helper()
	var cfg = config.Default()
	cfg.HeartbeatInterval = 0
	var r, err = repo.New(repo.Config{
		Identity: syncer.Identity{PeerID: ids.PeerID(peerID), Name: peerID, Type: "test"},
		Adapters: []adapter.Adapter{a},
		Config:   cfg,
		NewDoc:   func(ids.DocID) crdt.Doc { return crdt.NewText(peerID) },
	})
	require.NoError(t, err)
	return r
}

func TestBidirectionalSync(t *testing.T) {
	var a, b = New(), New()
	Pair(a, b)

	var serverRepo = mustRepo(t, "1", a)
	defer serverRepo.Disconnect(context.Background())
	var clientRepo = mustRepo(t, "2", b)
	defer clientRepo.Disconnect(context.Background())

	_, err := a.Connect()
	require.NoError(t, err)

	var docID = ids.DocID("doc-1")
	var serverHandle = serverRepo.Get(docID)
	var clientHandle = clientRepo.Get(docID)

	serverHandle.Change(func(doc crdt.Doc) { doc.(*crdt.Text).Append("hello ") })
	clientHandle.Change(func(doc crdt.Doc) { doc.(*crdt.Text).Append("world") })

	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clientHandle.WaitForNetwork(ctx))
	require.NoError(t, serverHandle.WaitForNetwork(ctx))

	assert.Eventually(t, func() bool {
		var converged bool
		serverHandle.Change(func(doc crdt.Doc) {
			var v = doc.(*crdt.Text).Value()
			converged = v == "hello world" || v == "world hello "
		})
		return converged
	}, 2*time.Second, 10*time.Millisecond)
}

// mustRepoWithRules is mustRepo plus an explicit Rules override, used by
// tests that need to deny a permission rather than accept the allow-all
// default.
func mustRepoWithRules(t *testing.T, peerID string, a *Adapter, rls *rules.Rules) *repo.Repo {
	t.Helper()
	var cfg = config.Default()
	cfg.HeartbeatInterval = 0
	var r, err = repo.New(repo.Config{
		Identity: syncer.Identity{PeerID: ids.PeerID(peerID), Name: peerID, Type: "test"},
		Adapters: []adapter.Adapter{a},
		Rules:    rls,
		Config:   cfg,
		NewDoc:   func(ids.DocID) crdt.Doc { return crdt.NewText(peerID) },
	})
	require.NoError(t, err)
	return r
}

// TestSubscribeToNonexistentDoc covers a document the local peer creates
// but is forbidden both from announcing and from revealing in a directory
// response: the remote side never learns it exists, so readiness for it
// never advances past the self entry.
func TestSubscribeToNonexistentDoc(t *testing.T) {
	var a, b = New(), New()
	Pair(a, b)

	var noAnnounce = rules.New(rules.Overrides{
		CanAnnounce: func(rules.Context) bool { return false },
		CanReveal:   func(rules.Context) bool { return false },
	})
	var serverRepo = mustRepo(t, "1", a)
	defer serverRepo.Disconnect(context.Background())
	var clientRepo = mustRepoWithRules(t, "2", b, noAnnounce)
	defer clientRepo.Disconnect(context.Background())

	_, err := a.Connect()
	require.NoError(t, err)

	var h = clientRepo.Get(ids.DocID("never-announced"))
	var ctx, cancel = context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	// The server never learns "never-announced" exists, so no peer entry
	// for it ever appears; WaitForNetwork must time out rather than
	// spuriously report readiness.
	assert.Error(t, h.WaitForNetwork(ctx))
}

// TestPermissionDeniedDropsInboundUpdate covers end-to-end scenario 6:
// CanUpdate denies peer B's inbound snapshot for doc "d", so the document's
// bytes are left unchanged.
func TestPermissionDeniedDropsInboundUpdate(t *testing.T) {
	var a, b = New(), New()
	Pair(a, b)

	var denyUpdate = rules.New(rules.Overrides{CanUpdate: func(rules.Context) bool { return false }})
	var serverRepo = mustRepo(t, "1", a)
	defer serverRepo.Disconnect(context.Background())
	var clientRepo = mustRepoWithRules(t, "2", b, denyUpdate)
	defer clientRepo.Disconnect(context.Background())

	_, err := a.Connect()
	require.NoError(t, err)

	var docID = ids.DocID("d")
	var serverHandle = serverRepo.Get(docID)
	var clientHandle = clientRepo.Get(docID)
	serverHandle.Change(func(doc crdt.Doc) { doc.(*crdt.Text).Append("hello") })

	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clientHandle.WaitForNetwork(ctx))

	// Give the denied sync-response a moment to have been processed and
	// dropped; the client's text must stay empty.
	time.Sleep(200 * time.Millisecond)
	var value string
	clientHandle.Change(func(doc crdt.Doc) { value = doc.(*crdt.Text).Value() })
	assert.Empty(t, value)
}

// TestEphemeralPresenceRoundTrip covers end-to-end scenario 4: presence
// written locally by one peer becomes visible to the other with
// source=remote. The sweep on disconnect is not checked here.
func TestEphemeralPresenceRoundTrip(t *testing.T) {
	var a, b = New(), New()
	Pair(a, b)

	var serverRepo = mustRepo(t, "1", a)
	defer serverRepo.Disconnect(context.Background())
	var clientRepo = mustRepo(t, "2", b)
	defer clientRepo.Disconnect(context.Background())

	_, err := a.Connect()
	require.NoError(t, err)

	var docID = ids.DocID("doc-presence")
	var serverHandle = serverRepo.Get(docID)
	var clientHandle = clientRepo.Get(docID)

	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clientHandle.WaitForNetwork(ctx))
	require.NoError(t, serverHandle.WaitForNetwork(ctx))

	var seen = make(chan ids.PeerID, 4)
	serverHandle.OnEphemeralChange(func(namespace string, peerID ids.PeerID, source syncer.ChangeSource) {
		if source == syncer.SourceRemote {
			select {
			case seen <- peerID:
			default:
			}
		}
	})

	clientHandle.Emit("cursor", []byte("x"))

	select {
	case peerID := <-seen:
		assert.Equal(t, ids.PeerID("2"), peerID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for remote presence to arrive")
	}
}
