package repo

import (
	"context"
	"sync"

	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/syncer"
)

// Handle is a caller's view onto one document tracked by a Repo: mutate it
// via Change, observe readiness via OnReadyStateChange, or block on one of
// the Wait* helpers until a specific readiness milestone is reached.
type Handle struct {
	docID ids.DocID
	repo  *Repo

	mu       sync.Mutex
	states   []syncer.ReadyState
	readyCbs map[int]func([]syncer.ReadyState)
	ephCbs   map[int]func(namespace string, peerID ids.PeerID, source syncer.ChangeSource)
	nextCbID int
}

// Change runs fn against the document's live crdt.Doc on the Repo's
// scheduler goroutine and blocks until it has been applied. Any local
// mutation fn performs inside the Doc triggers the usual LocalDocChange
// dispatch via the Doc's Subscribe hook.
func (h *Handle) Change(fn func(doc crdt.Doc)) {
	var done = make(chan struct{})
	h.repo.exec.Scheduler.Dispatch(func() {
		defer close(done)
		if doc, ok := h.repo.exec.Model.Documents[h.docID]; ok {
			fn(doc.Doc)
		}
	})
	<-done
}

// Emit writes this process's presence value for namespace, bundled under
// the document's ephemeral subsystem, and broadcasts it to subscribed
// peers. Empty data deletes this process's entry for namespace.
func (h *Handle) Emit(namespace string, data []byte) {
	h.repo.exec.DispatchWithPrep(func() {
		h.repo.exec.Ephemeral.Set(h.docID, namespace, h.repo.exec.Model.Identity.PeerID, data, h.repo.exec.Now())
	}, syncer.LocalEphemeralChange{DocID: h.docID, Namespace: namespace})
}

// OnReadyStateChange registers fn to be called with the full ReadyState
// list every time it changes, starting from the next change after
// registration. It returns an unsubscribe function.
func (h *Handle) OnReadyStateChange(fn func([]syncer.ReadyState)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.readyCbs == nil {
		h.readyCbs = make(map[int]func([]syncer.ReadyState))
	}
	var id = h.nextCbID
	h.nextCbID++
	h.readyCbs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.readyCbs, id)
		h.mu.Unlock()
	}
}

// OnEphemeralChange registers fn to be called for every applied ephemeral
// write affecting this document, local or remote.
func (h *Handle) OnEphemeralChange(fn func(namespace string, peerID ids.PeerID, source syncer.ChangeSource)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ephCbs == nil {
		h.ephCbs = make(map[int]func(string, ids.PeerID, syncer.ChangeSource))
	}
	var id = h.nextCbID
	h.nextCbID++
	h.ephCbs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.ephCbs, id)
		h.mu.Unlock()
	}
}

func (h *Handle) notifyReady(states []syncer.ReadyState) {
	h.mu.Lock()
	h.states = states
	var cbs = make([]func([]syncer.ReadyState), 0, len(h.readyCbs))
	for _, fn := range h.readyCbs {
		cbs = append(cbs, fn)
	}
	h.mu.Unlock()

	for _, fn := range cbs {
		fn(states)
	}
}

func (h *Handle) notifyEphemeral(namespace string, peerID ids.PeerID, source syncer.ChangeSource) {
	h.mu.Lock()
	var cbs = make([]func(string, ids.PeerID, syncer.ChangeSource), 0, len(h.ephCbs))
	for _, fn := range h.ephCbs {
		cbs = append(cbs, fn)
	}
	h.mu.Unlock()
	for _, fn := range cbs {
		fn(namespace, peerID, source)
	}
}

// snapshotStates returns the most recently observed ReadyState list.
func (h *Handle) snapshotStates() []syncer.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.states
}

// WaitUntilReady blocks until predicate returns true for the document's
// current ReadyState list, or ctx is done. Callers needing a specific
// milestone (e.g. "at least two peers synced") supply their own predicate;
// WaitForStorage/WaitForNetwork are convenience wrappers for the two
// milestones nearly every caller wants.
func (h *Handle) WaitUntilReady(ctx context.Context, predicate func([]syncer.ReadyState) bool) error {
	return h.waitFor(ctx, predicate)
}

// WaitForStorage blocks until a storage-kind channel reports this
// document Loaded -- i.e. the configured storage adapter has finished
// reading any previously persisted state.
func (h *Handle) WaitForStorage(ctx context.Context) error {
	return h.waitFor(ctx, func(states []syncer.ReadyState) bool {
		return h.anyChannelKindLoaded(states, channel.KindStorage)
	})
}

// WaitForNetwork blocks until a network-kind channel reports this document
// at least Aware -- i.e. we have exchanged directory/sync information with
// a remote peer over the network.
func (h *Handle) WaitForNetwork(ctx context.Context) error {
	return h.waitFor(ctx, func(states []syncer.ReadyState) bool {
		for _, s := range states {
			if s.PeerID == "" || s.Kind == syncer.Absent {
				continue
			}
			for _, cs := range s.Channels {
				if cs.Kind == channel.KindNetwork {
					return true
				}
			}
		}
		return false
	})
}

func (h *Handle) anyChannelKindLoaded(states []syncer.ReadyState, kind channel.Kind) bool {
	for _, s := range states {
		if s.Kind != syncer.Loaded {
			continue
		}
		if s.PeerID == "" {
			continue
		}
		for _, cs := range s.Channels {
			if cs.Kind == kind {
				return true
			}
		}
	}
	return false
}

func (h *Handle) waitFor(ctx context.Context, pred func([]syncer.ReadyState) bool) error {
	if pred(h.snapshotStates()) {
		return nil
	}
	var notify = make(chan struct{}, 1)
	var unsubscribe = h.OnReadyStateChange(func([]syncer.ReadyState) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		if pred(h.snapshotStates()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}
