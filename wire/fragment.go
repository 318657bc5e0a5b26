package wire

// TransportPrefix discriminates the three framings an adapter with a
// bounded MTU may put in front of a raw payload: a complete message, or
// one piece of a fragmented one.
type TransportPrefix byte

// Defined transport prefixes.
const (
	PrefixComplete       TransportPrefix = 0x00
	PrefixFragmentHeader TransportPrefix = 0x01
	PrefixFragmentData   TransportPrefix = 0x02
)

// Fragment splits the encoded frame into pieces no larger than mtu,
// returning one or more raw byte slices ready to be handed to an adapter's
// send. If frame already fits within mtu (after accounting for the
// PrefixComplete tag), Fragment returns a single slice.
//
// messageID must be unique among fragmented messages concurrently
// in-flight on the destination channel; callers typically draw it from a
// per-channel counter.
func Fragment(frame []byte, mtu int, messageID uint64) [][]byte {
	if mtu <= 0 {
		mtu = len(frame) + 1
	}
	if len(frame)+1 <= mtu {
		var w = NewWriter()
		w.PutByte(byte(PrefixComplete))
		w.PutRaw(frame)
		return [][]byte{w.Bytes()}
	}

	// Budget per fragment: mtu, minus the fragment-data prefix overhead
	// (1 prefix byte + messageID + fragmentIndex, each up to 10 bytes of
	// ULEB128). We conservatively reserve headerOverhead bytes of budget
	// for the varint fields so fragments never exceed mtu even for large
	// indices.
	const headerOverhead = 1 + 10 + 10
	var chunk = mtu - headerOverhead
	if chunk <= 0 {
		chunk = 1
	}

	var total = (len(frame) + chunk - 1) / chunk
	var out = make([][]byte, 0, total+1)

	var header = NewWriter()
	header.PutByte(byte(PrefixFragmentHeader))
	header.PutUvarint(messageID)
	header.PutUvarint(uint64(total))
	out = append(out, header.Bytes())

	for i := 0; i < total; i++ {
		var start = i * chunk
		var end = start + chunk
		if end > len(frame) {
			end = len(frame)
		}
		var w = NewWriter()
		w.PutByte(byte(PrefixFragmentData))
		w.PutUvarint(messageID)
		w.PutUvarint(uint64(i))
		w.PutRaw(frame[start:end])
		out = append(out, w.Bytes())
	}
	return out
}
