package crdt

import (
	"sort"
	"strings"
	"sync"

	"go.gazette.dev/sync/wire"
)

// op is one producer-sequenced text insertion. Ops are immutable and
// globally ordered by (Seq, Producer), giving every replica that has
// received the same set of ops an identical merged Value -- the minimal
// property the Synchronizer's tests require of "a CRDT".
type op struct {
	Producer string
	Seq      uint64
	Text     string
}

// Text is a reference, in-memory append-only text CRDT: local edits are
// appended as new ops tagged with the local producer id and an
// incrementing sequence number; remote ops are merged by id and are a
// no-op if already known. It is not intended to model a production text
// CRDT (no tombstones, no position-stable concurrent inserts) -- only to
// give the Synchronizer something real to snapshot, diff, and merge.
type Text struct {
	mu       sync.Mutex
	producer string
	ops      map[string]map[uint64]op // producer -> seq -> op
	version  VectorVersion
	subs     []func()
}

// NewText returns an empty Text CRDT attributing local edits to producer.
func NewText(producer string) *Text {
	return &Text{
		producer: producer,
		ops:      make(map[string]map[uint64]op),
		version:  VectorVersion{},
	}
}

// Append is a local edit: it assigns the next sequence number for this
// Text's producer and notifies subscribers.
func (t *Text) Append(text string) {
	t.mu.Lock()
	var seq = t.version[t.producer] + 1
	t.insertLocked(op{Producer: t.producer, Seq: seq, Text: text})
	t.mu.Unlock()
	t.notify()
}

// Value returns the merged text: every known op, ordered by (Seq,
// Producer) so that concurrent edits from different producers interleave
// deterministically regardless of merge order.
func (t *Text) Value() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var all = make([]op, 0)
	for _, bySeq := range t.ops {
		for _, o := range bySeq {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Seq != all[j].Seq {
			return all[i].Seq < all[j].Seq
		}
		return all[i].Producer < all[j].Producer
	})
	var sb strings.Builder
	for _, o := range all {
		sb.WriteString(o.Text)
	}
	return sb.String()
}

// Version implements Doc.
func (t *Text) Version() Version {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version.clone()
}

// DecodeVersion implements Doc.
func (t *Text) DecodeVersion(b []byte) (Version, error) { return DecodeVectorVersion(b) }

// OpCount implements Doc.
func (t *Text) OpCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, bySeq := range t.ops {
		n += len(bySeq)
	}
	return n
}

// Snapshot implements Doc, encoding the complete op log.
func (t *Text) Snapshot() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var all = t.allOpsLocked()
	return encodeOps(all), nil
}

// ExportSince implements Doc, encoding only ops whose sequence exceeds the
// producer's entry in since.
func (t *Text) ExportSince(since Version) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sv, _ = since.(VectorVersion)
	var out []op
	for producer, bySeq := range t.ops {
		for seq, o := range bySeq {
			if seq > sv[producer] {
				out = append(out, o)
			}
		}
	}
	return encodeOps(out), nil
}

// Import implements Doc: merges externally-produced ops, ignoring any
// already known (making Import idempotent), and notifies subscribers only
// if at least one op was new.
func (t *Text) Import(data []byte) error {
	var ops, err = decodeOps(data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	var changed bool
	for _, o := range ops {
		if t.insertLocked(o) {
			changed = true
		}
	}
	t.mu.Unlock()

	if changed {
		t.notify()
	}
	return nil
}

// Subscribe implements Doc.
func (t *Text) Subscribe(fn func()) (unsubscribe func()) {
	t.mu.Lock()
	var idx = len(t.subs)
	t.subs = append(t.subs, fn)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		t.subs[idx] = nil
		t.mu.Unlock()
	}
}

func (t *Text) notify() {
	t.mu.Lock()
	var subs = append([]func(){}, t.subs...)
	t.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn()
		}
	}
}

// insertLocked adds o if not already present, updating version. Caller
// must hold t.mu. Returns true iff o was newly added.
func (t *Text) insertLocked(o op) bool {
	var bySeq = t.ops[o.Producer]
	if bySeq == nil {
		bySeq = make(map[uint64]op)
		t.ops[o.Producer] = bySeq
	}
	if _, ok := bySeq[o.Seq]; ok {
		return false
	}
	bySeq[o.Seq] = o
	if o.Seq > t.version[o.Producer] {
		if t.version == nil {
			t.version = VectorVersion{}
		}
		t.version[o.Producer] = o.Seq
	}
	return true
}

func (t *Text) allOpsLocked() []op {
	var all []op
	for _, bySeq := range t.ops {
		for _, o := range bySeq {
			all = append(all, o)
		}
	}
	return all
}

func encodeOps(ops []op) []byte {
	var w = wire.NewWriter()
	w.PutUvarint(uint64(len(ops)))
	for _, o := range ops {
		w.PutVarString(o.Producer)
		w.PutUvarint(o.Seq)
		w.PutVarString(o.Text)
	}
	return w.Bytes()
}

func decodeOps(data []byte) ([]op, error) {
	var r = wire.NewReader(data)
	var n, err = r.Uvarint()
	if err != nil {
		return nil, err
	}
	var ops = make([]op, n)
	for i := range ops {
		if ops[i].Producer, err = r.VarString(); err != nil {
			return nil, err
		}
		if ops[i].Seq, err = r.Uvarint(); err != nil {
			return nil, err
		}
		if ops[i].Text, err = r.VarString(); err != nil {
			return nil, err
		}
	}
	return ops, nil
}
