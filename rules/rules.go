// Package rules implements the four permission predicates that gate what a
// Synchronizer announces, reveals, subscribes, and accepts on behalf of a
// peer. Each predicate defaults to true; New builds a Rules value from
// partial overrides, in the style of the teacher's NewResolver/NewService
// constructors -- explicit dependencies, no hidden defaults baked in
// elsewhere.
package rules

import (
	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ids"
)

// PeerContext describes the peer a rule is being evaluated for.
type PeerContext struct {
	PeerID      ids.PeerID
	Name        string
	Type        string
	ChannelID   ids.ChannelID
	ChannelKind channel.Kind
}

// DocContext optionally describes the document a rule is being evaluated
// for. It is absent (nil Doc, empty DocID) for rules like CanAnnounce that
// may be evaluated before a document is known to the peer.
type DocContext struct {
	DocID ids.DocID
	Doc   crdt.Doc
}

// Context bundles a PeerContext with an optional DocContext.
type Context struct {
	Peer     PeerContext
	Document *DocContext
}

// Predicate evaluates a single permission check. Predicates must be pure
// and side-effect free: the Synchronizer may call them from within its
// update function.
type Predicate func(Context) bool

func allowAll(Context) bool { return true }

// Rules bundles the four permission predicates enforced by the
// Synchronizer.
type Rules struct {
	// CanAnnounce: may we mention a document exists to this peer?
	CanAnnounce Predicate
	// CanReveal: may we include a document in directory-response?
	CanReveal Predicate
	// CanSubscribe: may the peer subscribe and thus receive future updates?
	CanSubscribe Predicate
	// CanUpdate: may we accept this peer's CRDT bytes for the document?
	CanUpdate Predicate
}

// Overrides selectively replaces one or more of the four predicates.
// Unset fields default to allow-all.
type Overrides struct {
	CanAnnounce  Predicate
	CanReveal    Predicate
	CanSubscribe Predicate
	CanUpdate    Predicate
}

// New returns a Rules value with any unset Overrides field defaulting to
// allow-all.
func New(o Overrides) *Rules {
	var r = &Rules{
		CanAnnounce:  allowAll,
		CanReveal:    allowAll,
		CanSubscribe: allowAll,
		CanUpdate:    allowAll,
	}
	if o.CanAnnounce != nil {
		r.CanAnnounce = o.CanAnnounce
	}
	if o.CanReveal != nil {
		r.CanReveal = o.CanReveal
	}
	if o.CanSubscribe != nil {
		r.CanSubscribe = o.CanSubscribe
	}
	if o.CanUpdate != nil {
		r.CanUpdate = o.CanUpdate
	}
	return r
}

// Default returns the allow-everything Rules used when a Repo is
// constructed without an explicit Rules value.
func Default() *Rules { return New(Overrides{}) }
