package wire

import "github.com/pkg/errors"

// ErrFragmentConflict is returned when a fragment header or data piece
// disagrees with a previously-seen header for the same messageID.
var ErrFragmentConflict = errors.New("fragment conflict")

type reassemblySession struct {
	total    uint64
	havePart map[uint64][]byte
	seq      uint64 // monotonic arrival sequence, used to evict the oldest session
}

// Reassembler stitches fragmented messages back together for a single
// channel. It is not safe for concurrent use: the single-threaded
// scheduler is its only caller, matching every other piece of this
// package's concurrency model.
type Reassembler struct {
	maxInFlight int
	sessions    map[uint64]*reassemblySession
	seq         uint64
}

// NewReassembler returns a Reassembler that tracks at most maxInFlight
// concurrent, incomplete messages before dropping the oldest.
func NewReassembler(maxInFlight int) *Reassembler {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Reassembler{
		maxInFlight: maxInFlight,
		sessions:    make(map[uint64]*reassemblySession),
	}
}

// Feed consumes one raw, prefixed payload as delivered by an adapter. If it
// completes a message (either because it carried PrefixComplete, or it was
// the final fragment needed), Feed returns the reassembled frame and true.
// Malformed or out-of-range fragments are dropped and reported via err;
// the Reassembler's internal state is otherwise unaffected by a drop.
func (a *Reassembler) Feed(raw []byte) (frame []byte, complete bool, err error) {
	if len(raw) < 1 {
		return nil, false, errors.WithMessage(ErrTruncatedField, "prefix")
	}
	var r = NewReader(raw[1:])

	switch TransportPrefix(raw[0]) {
	case PrefixComplete:
		return raw[1:], true, nil

	case PrefixFragmentHeader:
		var messageID, total uint64
		if messageID, err = r.Uvarint(); err != nil {
			return nil, false, errors.WithMessage(err, "fragment header messageId")
		}
		if total, err = r.Uvarint(); err != nil {
			return nil, false, errors.WithMessage(err, "fragment header totalFragments")
		}
		var s, ok = a.sessions[messageID]
		if ok && s.total == ^uint64(0) {
			// Data pieces arrived before this header: adopt its total, and
			// complete the message now if every piece is already here.
			s.total = total
			var w = NewWriter()
			for i := uint64(0); i < total; i++ {
				var part, have = s.havePart[i]
				if !have {
					return nil, false, nil
				}
				w.PutRaw(part)
			}
			delete(a.sessions, messageID)
			return w.Bytes(), true, nil
		}
		if ok && s.total != total {
			return nil, false, errors.WithMessagef(ErrFragmentConflict,
				"messageId %d: total %d != existing %d", messageID, total, s.total)
		}
		if !ok {
			a.admit(messageID, total)
		}
		return nil, false, nil

	case PrefixFragmentData:
		var messageID, index uint64
		if messageID, err = r.Uvarint(); err != nil {
			return nil, false, errors.WithMessage(err, "fragment data messageId")
		}
		if index, err = r.Uvarint(); err != nil {
			return nil, false, errors.WithMessage(err, "fragment data fragmentIndex")
		}
		var data, derr = r.Raw(r.Remaining())
		if derr != nil {
			return nil, false, errors.WithMessage(derr, "fragment data payload")
		}

		var s, ok = a.sessions[messageID]
		if !ok {
			// Data arrived before its header; admit a session with an
			// unknown total so later header/data pieces can still land,
			// but we cannot detect fragmentIndex >= totalFragments yet.
			s = &reassemblySession{total: ^uint64(0), havePart: map[uint64][]byte{}, seq: a.nextSeq()}
			a.sessions[messageID] = s
			a.evictIfOverflowing()
		}
		if index >= s.total {
			return nil, false, errors.WithMessagef(ErrFragmentConflict,
				"messageId %d: fragmentIndex %d >= total %d", messageID, index, s.total)
		}
		s.havePart[index] = append([]byte(nil), data...)

		if uint64(len(s.havePart)) < s.total {
			return nil, false, nil
		}

		var w = NewWriter()
		for i := uint64(0); i < s.total; i++ {
			w.PutRaw(s.havePart[i])
		}
		delete(a.sessions, messageID)
		return w.Bytes(), true, nil

	default:
		return nil, false, errors.WithMessagef(ErrUnknownMessageType, "transport prefix 0x%02x", raw[0])
	}
}

func (a *Reassembler) admit(messageID, total uint64) {
	a.sessions[messageID] = &reassemblySession{
		total:    total,
		havePart: make(map[uint64][]byte, total),
		seq:      a.nextSeq(),
	}
	a.evictIfOverflowing()
}

func (a *Reassembler) nextSeq() uint64 {
	a.seq++
	return a.seq
}

// evictIfOverflowing drops the oldest in-flight session once the
// configured cap is exceeded, bounding memory from peers that start many
// fragmented messages without completing them.
func (a *Reassembler) evictIfOverflowing() {
	for len(a.sessions) > a.maxInFlight {
		var oldestID uint64
		var oldestSeq = ^uint64(0)
		for id, s := range a.sessions {
			if s.seq < oldestSeq {
				oldestSeq = s.seq
				oldestID = id
			}
		}
		delete(a.sessions, oldestID)
	}
}

// InFlight returns the number of incomplete sessions currently tracked,
// for metrics/tests.
func (a *Reassembler) InFlight() int { return len(a.sessions) }
