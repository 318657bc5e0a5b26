// Package ephemeral implements the presence subsystem: for each
// (DocID, namespace) a key→value map keyed by PeerID, with a TTL on each
// entry. Local writes carry source=local, applied remote bytes carry
// source=remote, and the first callback after Subscribe carries
// source=initial -- those source tags are the caller's (package
// syncer/exec's) responsibility; this package only owns the data.
package ephemeral

import (
	"time"

	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/wire"
)

// Entry is one peer's namespaced presence value.
type Entry struct {
	Data      []byte
	ExpiresAt time.Time
}

type namespaceKey struct {
	DocID     ids.DocID
	Namespace string
}

// Affected names one (doc, namespace) pair touched by an operation, used
// by RemovePeer to report what it swept.
type Affected struct {
	DocID     ids.DocID
	Namespace string
}

// Store holds every document's namespaced presence maps. It is mutated
// only from the Synchronizer's single scheduler goroutine, like Model.
type Store struct {
	ttl  time.Duration
	rows map[namespaceKey]map[ids.PeerID]Entry
}

// NewStore returns an empty Store. ttl <= 0 disables expiry (entries live
// until explicitly removed).
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, rows: make(map[namespaceKey]map[ids.PeerID]Entry)}
}

func (s *Store) namespace(docID ids.DocID, ns string) map[ids.PeerID]Entry {
	var key = namespaceKey{DocID: docID, Namespace: ns}
	var m, ok = s.rows[key]
	if !ok {
		m = make(map[ids.PeerID]Entry)
		s.rows[key] = m
	}
	return m
}

// Set writes peerID's entry for (docID, namespace). Empty data deletes the
// entry, matching the wire convention for "peer's entry was deleted".
func (s *Store) Set(docID ids.DocID, namespace string, peerID ids.PeerID, data []byte, now time.Time) {
	var m = s.namespace(docID, namespace)
	if len(data) == 0 {
		delete(m, peerID)
		return
	}
	var entry = Entry{Data: data}
	if s.ttl > 0 {
		entry.ExpiresAt = now.Add(s.ttl)
	}
	m[peerID] = entry
}

// All returns every live (non-expired) entry for (docID, namespace).
func (s *Store) All(docID ids.DocID, namespace string, now time.Time) map[ids.PeerID][]byte {
	var m = s.namespace(docID, namespace)
	var out = make(map[ids.PeerID][]byte, len(m))
	for peerID, entry := range m {
		if s.expired(entry, now) {
			continue
		}
		out[peerID] = entry.Data
	}
	return out
}

func (s *Store) expired(e Entry, now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// RemovePeer deletes peerID's row from every namespace of every document,
// reporting each (docID, namespace) it actually touched.
func (s *Store) RemovePeer(peerID ids.PeerID) []Affected {
	var out []Affected
	for key, m := range s.rows {
		if _, ok := m[peerID]; ok {
			delete(m, peerID)
			out = append(out, Affected{DocID: key.DocID, Namespace: key.Namespace})
		}
	}
	return out
}

// Namespaces returns the name of every namespace currently tracked for
// docID.
func (s *Store) Namespaces(docID ids.DocID) []string {
	var seen = make(map[string]struct{})
	var out []string
	for key := range s.rows {
		if key.DocID != docID {
			continue
		}
		if _, ok := seen[key.Namespace]; !ok {
			seen[key.Namespace] = struct{}{}
			out = append(out, key.Namespace)
		}
	}
	return out
}

// EncodeNamespace renders every live entry of (docID, namespace) as the
// wire.EphemeralEntry list an ephemeral channel message carries.
func (s *Store) EncodeNamespace(docID ids.DocID, namespace string, now time.Time) []wire.EphemeralEntry {
	var live = s.All(docID, namespace, now)
	var out = make([]wire.EphemeralEntry, 0, len(live))
	for peerID, data := range live {
		out = append(out, wire.EphemeralEntry{PeerID: peerID.String(), Namespace: namespace, Data: data})
	}
	return out
}

// PurgeExpired removes every entry past its TTL, across all documents. A
// no-op Store (ttl <= 0) never has anything to purge.
func (s *Store) PurgeExpired(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for _, m := range s.rows {
		for peerID, entry := range m {
			if s.expired(entry, now) {
				delete(m, peerID)
			}
		}
	}
}
