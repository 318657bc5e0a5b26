// Package wire implements the binary frame format exchanged between
// Synchronizer adapters: magic-tagged, length-prefixed messages with
// ULEB128-encoded integers, in the manner gazette's broker/protocol package
// encodes its own wire types -- explicit Encode/Decode pairs, validation
// errors wrapped with github.com/pkg/errors, no panics on malformed input.
package wire

import (
	"bytes"

	lz4 "github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Sentinel decode errors. Framing errors from Decode are one of these
// (possibly wrapped with additional context via errors.WithMessage) rather
// than a bare fmt.Errorf, so callers can errors.Cause-match on them. A
// failed lz4 decompression is the exception: it is returned as lz4's own
// error, wrapped with context.
var (
	ErrShortFrame         = errors.New("short frame")
	ErrUnknownMagic       = errors.New("unknown magic")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrTruncatedField     = errors.New("truncated field")
)

// Writer accumulates an encoded frame. It never returns an error: all
// methods operate on an in-memory buffer with unbounded growth, matching
// bytes.Buffer's own no-error Write contract.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated frame.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// PutByte appends a single byte.
func (w *Writer) PutByte(b byte) { w.buf.WriteByte(b) }

// PutRaw appends raw bytes without a length prefix.
func (w *Writer) PutRaw(b []byte) { w.buf.Write(b) }

// PutUvarint appends v as a ULEB128-encoded unsigned integer.
func (w *Writer) PutUvarint(v uint64) {
	for v >= 0x80 {
		w.buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	w.buf.WriteByte(byte(v))
}

// PutVarBytes appends a ULEB128 length prefix followed by b.
func (w *Writer) PutVarBytes(b []byte) {
	w.PutUvarint(uint64(len(b)))
	w.buf.Write(b)
}

// PutVarString appends a ULEB128 length prefix followed by the UTF-8 bytes
// of s.
func (w *Writer) PutVarString(s string) {
	w.PutUvarint(uint64(len(s)))
	w.buf.WriteString(s)
}

// PutCompressedBytes appends b lz4 block-compressed, framed the way
// syncthing's protocol codec frames its own compressed blocks: a one-byte
// codec tag (0 raw, 1 lz4) followed, for the lz4 case, by a ULEB128
// uncompressed length and the compressed block as a length-prefixed byte
// string. Empty or incompressible input falls back to the raw tag rather
// than failing -- PutVarBytes itself never errors, and this must not
// either.
func (w *Writer) PutCompressedBytes(b []byte) {
	if len(b) == 0 {
		w.PutByte(0)
		w.PutVarBytes(b)
		return
	}
	var dst = make([]byte, lz4.CompressBlockBound(len(b)))
	var n, err = lz4.CompressBlock(b, dst, nil)
	if err != nil || n == 0 || n >= len(b) {
		w.PutByte(0)
		w.PutVarBytes(b)
		return
	}
	w.PutByte(1)
	w.PutUvarint(uint64(len(b)))
	w.PutVarBytes(dst[:n])
}

// Reader consumes an encoded frame sequentially, tracking its own offset.
// Every method returns ErrTruncatedField (possibly wrapped) when fewer
// bytes remain than are required.
type Reader struct {
	b   []byte
	off int
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader { return &Reader{b: b} }

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int { return len(r.b) - r.off }

// Byte consumes and returns a single byte.
func (r *Reader) Byte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, errors.WithMessage(ErrTruncatedField, "byte")
	}
	var b = r.b[r.off]
	r.off++
	return b, nil
}

// Raw consumes and returns exactly n raw bytes.
func (r *Reader) Raw(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, errors.WithMessagef(ErrTruncatedField, "raw(%d)", n)
	}
	var b = r.b[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Uvarint consumes and returns a ULEB128-encoded unsigned integer.
func (r *Reader) Uvarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if r.Remaining() < 1 {
			return 0, errors.WithMessage(ErrTruncatedField, "uvarint")
		}
		var b = r.b[r.off]
		r.off++

		if shift >= 64 {
			return 0, errors.WithMessage(ErrTruncatedField, "uvarint overflow")
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
	}
}

// VarBytes consumes a ULEB128 length prefix and the following byte array.
// The returned slice aliases the Reader's backing array and must be copied
// by the caller if it will outlive a subsequent use of that array.
func (r *Reader) VarBytes() ([]byte, error) {
	var n, err = r.Uvarint()
	if err != nil {
		return nil, errors.WithMessage(err, "var bytes length")
	}
	return r.Raw(int(n))
}

// CompressedBytes consumes a frame written by PutCompressedBytes, returning
// the decompressed payload. The returned slice is a freshly allocated
// buffer, never one aliasing the Reader's backing array.
func (r *Reader) CompressedBytes() ([]byte, error) {
	var tag, err = r.Byte()
	if err != nil {
		return nil, errors.WithMessage(err, "compressed bytes tag")
	}
	if tag == 0 {
		var raw []byte
		if raw, err = r.VarBytes(); err != nil {
			return nil, err
		}
		return append(make([]byte, 0, len(raw)), raw...), nil
	}

	var uncompressedLen uint64
	if uncompressedLen, err = r.Uvarint(); err != nil {
		return nil, errors.WithMessage(err, "compressed bytes length")
	}
	var block []byte
	if block, err = r.VarBytes(); err != nil {
		return nil, errors.WithMessage(err, "compressed bytes block")
	}
	var dst = make([]byte, uncompressedLen)
	var n int
	if n, err = lz4.UncompressBlock(block, dst); err != nil {
		return nil, errors.WithMessage(err, "lz4 decompress")
	}
	return dst[:n], nil
}

// VarString consumes a ULEB128 length prefix and the following UTF-8 bytes.
func (r *Reader) VarString() (string, error) {
	var b, err = r.VarBytes()
	if err != nil {
		return "", errors.WithMessage(err, "var string")
	}
	return string(b), nil
}
