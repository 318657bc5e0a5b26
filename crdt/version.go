package crdt

import (
	"sort"

	"go.gazette.dev/sync/wire"
)

// VectorVersion is a per-producer op-count vector clock: the reference
// Version implementation backing Text.
type VectorVersion map[string]uint64

// EmptyVersion is the zero-history Version, as reported by a Doc that has
// never synced or received any operation.
var EmptyVersion = VectorVersion{}

// IsEmpty implements Version.
func (v VectorVersion) IsEmpty() bool { return len(v) == 0 }

// Bytes implements Version, encoding as a sorted list of (producer, seq)
// pairs so Bytes() is deterministic regardless of map iteration order.
func (v VectorVersion) Bytes() []byte {
	var producers = make([]string, 0, len(v))
	for p := range v {
		producers = append(producers, p)
	}
	sort.Strings(producers)

	var w = wire.NewWriter()
	w.PutUvarint(uint64(len(producers)))
	for _, p := range producers {
		w.PutVarString(p)
		w.PutUvarint(v[p])
	}
	return w.Bytes()
}

// DecodeVectorVersion parses bytes produced by Bytes. An empty slice
// decodes to EmptyVersion.
func DecodeVectorVersion(b []byte) (VectorVersion, error) {
	if len(b) == 0 {
		return VectorVersion{}, nil
	}
	var r = wire.NewReader(b)
	var n, err = r.Uvarint()
	if err != nil {
		return nil, err
	}
	var v = make(VectorVersion, n)
	for i := uint64(0); i < n; i++ {
		var p string
		var seq uint64
		if p, err = r.VarString(); err != nil {
			return nil, err
		}
		if seq, err = r.Uvarint(); err != nil {
			return nil, err
		}
		v[p] = seq
	}
	return v, nil
}

// Compare implements Version.
func (v VectorVersion) Compare(other Version) Comparison {
	var o, _ = other.(VectorVersion)

	var vDominatesO, oDominatesV = true, true
	for p, seq := range v {
		if o[p] < seq {
			oDominatesV = false
		}
	}
	for p, seq := range o {
		if v[p] < seq {
			vDominatesO = false
		}
	}
	switch {
	case vDominatesO && oDominatesV:
		return Equal
	case vDominatesO:
		return Dominates
	case oDominatesV:
		return Dominated
	default:
		return Concurrent
	}
}

// merge returns the element-wise maximum of v and o, the standard vector
// clock join.
func (v VectorVersion) merge(o VectorVersion) VectorVersion {
	var out = make(VectorVersion, len(v)+len(o))
	for p, seq := range v {
		out[p] = seq
	}
	for p, seq := range o {
		if seq > out[p] {
			out[p] = seq
		}
	}
	return out
}

// clone returns a shallow copy, since VectorVersion must never be mutated
// in place once shared (e.g. stored as a Peer's lastKnownVersion).
func (v VectorVersion) clone() VectorVersion {
	var out = make(VectorVersion, len(v))
	for p, seq := range v {
		out[p] = seq
	}
	return out
}
