// Package ids defines the identifier types shared across the synchronizer:
// DocID and PeerID are opaque-but-validated strings, ChannelID is a
// per-process monotonic counter. Keeping validation here (rather than
// scattered at call sites) matches the teacher's protocol package, which
// centralizes Validate() on each wire identifier.
package ids

import (
	"strconv"

	"github.com/pkg/errors"
)

// DocID identifies a CRDT document. It is opaque to this package.
type DocID string

// PeerID is a non-empty decimal integer within the unsigned 64-bit range,
// with no leading zeros (except the literal value "0" itself).
type PeerID string

// ChannelID is a monotonic, non-negative integer unique within one process.
type ChannelID uint64

// ErrInvalidPeerID is returned by Validate for malformed PeerIDs.
var ErrInvalidPeerID = errors.New("invalid peer id")

// Validate checks that p is a well-formed PeerID: a non-empty string of
// ASCII digits, parseable as uint64, with no leading zero unless the value
// is exactly "0".
func (p PeerID) Validate() error {
	var s = string(p)
	if s == "" {
		return errors.WithMessage(ErrInvalidPeerID, "empty")
	}
	if len(s) > 1 && s[0] == '0' {
		return errors.WithMessagef(ErrInvalidPeerID, "leading zero in %q", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return errors.WithMessagef(ErrInvalidPeerID, "non-digit in %q", s)
		}
	}
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return errors.WithMessagef(ErrInvalidPeerID, "out of range: %q", s)
	}
	return nil
}

// String returns the PeerID as a plain string.
func (p PeerID) String() string { return string(p) }

// String returns the DocID as a plain string.
func (d DocID) String() string { return string(d) }

// String renders the ChannelID in decimal.
func (c ChannelID) String() string { return strconv.FormatUint(uint64(c), 10) }

// Generator hands out monotonically increasing ChannelIDs for one process.
// It is not safe for concurrent use by design: the synchronizer's
// single-threaded scheduler is the only caller.
type Generator struct {
	next uint64
}

// Next returns the next ChannelID, starting from 0.
func (g *Generator) Next() ChannelID {
	var id = ChannelID(g.next)
	g.next++
	return id
}
