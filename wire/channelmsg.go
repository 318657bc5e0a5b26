package wire

import "github.com/pkg/errors"

// ChannelKind discriminates the channel-level messages unified under the
// DocUpdate wire type. Establishment (establish-request/response/error) is
// carried instead as the top-level JoinRequest/JoinResponseOk/JoinError
// message types -- see wire.go -- rather than duplicated here.
type ChannelKind byte

// Defined channel message kinds.
const (
	KindNewDoc            ChannelKind = 0x01
	KindDirectoryRequest  ChannelKind = 0x02
	KindDirectoryResponse ChannelKind = 0x03
	KindSyncRequest       ChannelKind = 0x04
	KindSyncResponse      ChannelKind = 0x05
	KindEphemeral         ChannelKind = 0x06
	KindBatch             ChannelKind = 0x07
)

// TransmissionKind discriminates the payload variant of a SyncResponse.
type TransmissionKind byte

// Defined transmission kinds.
const (
	TransmissionUpToDate    TransmissionKind = 0x00
	TransmissionSnapshot    TransmissionKind = 0x01
	TransmissionUpdate      TransmissionKind = 0x02
	TransmissionUnavailable TransmissionKind = 0x03
)

// Transmission is the payload of a sync-response.
type Transmission struct {
	Kind    TransmissionKind
	Data    []byte // Snapshot, Update
	Version []byte // UpToDate, Snapshot, Update
}

// SyncDoc is one entry of a sync-request's docs list.
type SyncDoc struct {
	DocID            string
	RequesterVersion []byte
}

// EphemeralEntry is one store delta carried by an ephemeral message. An
// empty Data means the peer's entry for this namespace was deleted.
type EphemeralEntry struct {
	PeerID    string
	Namespace string
	Data      []byte
}

// ChannelMessage is the decoded form of a DocUpdate body. Exactly one of
// the typed fields is meaningful, selected by Kind.
type ChannelMessage struct {
	Kind ChannelKind

	DocIDs []string // NewDoc, DirectoryResponse

	SyncDocs      []SyncDoc // SyncRequest
	Bidirectional bool      // SyncRequest

	DocID        string       // SyncResponse, Ephemeral
	Transmission Transmission // SyncResponse

	HopsRemaining uint64           // Ephemeral
	Stores        []EphemeralEntry // Ephemeral

	Messages []ChannelMessage // Batch
}

func encodeChannelMessage(w *Writer, m ChannelMessage) {
	w.PutByte(byte(m.Kind))
	switch m.Kind {
	case KindNewDoc, KindDirectoryResponse:
		w.PutUvarint(uint64(len(m.DocIDs)))
		for _, id := range m.DocIDs {
			w.PutVarString(id)
		}
	case KindDirectoryRequest:
		// No body.
	case KindSyncRequest:
		w.PutUvarint(uint64(len(m.SyncDocs)))
		for _, d := range m.SyncDocs {
			w.PutVarString(d.DocID)
			w.PutVarBytes(d.RequesterVersion)
		}
		if m.Bidirectional {
			w.PutByte(1)
		} else {
			w.PutByte(0)
		}
	case KindSyncResponse:
		w.PutVarString(m.DocID)
		encodeTransmission(w, m.Transmission)
	case KindEphemeral:
		w.PutVarString(m.DocID)
		w.PutUvarint(m.HopsRemaining)
		w.PutUvarint(uint64(len(m.Stores)))
		for _, s := range m.Stores {
			w.PutVarString(s.PeerID)
			w.PutVarString(s.Namespace)
			w.PutVarBytes(s.Data)
		}
	case KindBatch:
		w.PutUvarint(uint64(len(m.Messages)))
		for _, inner := range m.Messages {
			encodeChannelMessage(w, inner)
		}
	}
}

func decodeChannelMessage(r *Reader) (ChannelMessage, error) {
	var m ChannelMessage
	var kindByte, err = r.Byte()
	if err != nil {
		return m, errors.WithMessage(err, "channel message kind")
	}
	m.Kind = ChannelKind(kindByte)

	switch m.Kind {
	case KindNewDoc, KindDirectoryResponse:
		var n uint64
		if n, err = r.Uvarint(); err != nil {
			return m, errors.WithMessage(err, "docIds length")
		}
		if n > uint64(r.Remaining()) {
			return m, errors.WithMessage(ErrTruncatedField, "docIds length")
		}
		m.DocIDs = make([]string, n)
		for i := range m.DocIDs {
			if m.DocIDs[i], err = r.VarString(); err != nil {
				return m, errors.WithMessage(err, "docIds[i]")
			}
		}
	case KindDirectoryRequest:
		// No body.
	case KindSyncRequest:
		var n uint64
		if n, err = r.Uvarint(); err != nil {
			return m, errors.WithMessage(err, "sync-request docs length")
		}
		if n > uint64(r.Remaining()) {
			return m, errors.WithMessage(ErrTruncatedField, "sync-request docs length")
		}
		m.SyncDocs = make([]SyncDoc, n)
		for i := range m.SyncDocs {
			if m.SyncDocs[i].DocID, err = r.VarString(); err != nil {
				return m, errors.WithMessage(err, "sync-request docId")
			}
			if m.SyncDocs[i].RequesterVersion, err = r.VarBytes(); err != nil {
				return m, errors.WithMessage(err, "sync-request requesterVersion")
			}
		}
		var b byte
		if b, err = r.Byte(); err != nil {
			return m, errors.WithMessage(err, "sync-request bidirectional")
		}
		m.Bidirectional = b != 0
	case KindSyncResponse:
		if m.DocID, err = r.VarString(); err != nil {
			return m, errors.WithMessage(err, "sync-response docId")
		}
		if m.Transmission, err = decodeTransmission(r); err != nil {
			return m, err
		}
	case KindEphemeral:
		if m.DocID, err = r.VarString(); err != nil {
			return m, errors.WithMessage(err, "ephemeral docId")
		}
		if m.HopsRemaining, err = r.Uvarint(); err != nil {
			return m, errors.WithMessage(err, "ephemeral hopsRemaining")
		}
		var n uint64
		if n, err = r.Uvarint(); err != nil {
			return m, errors.WithMessage(err, "ephemeral stores length")
		}
		if n > uint64(r.Remaining()) {
			return m, errors.WithMessage(ErrTruncatedField, "ephemeral stores length")
		}
		m.Stores = make([]EphemeralEntry, n)
		for i := range m.Stores {
			if m.Stores[i].PeerID, err = r.VarString(); err != nil {
				return m, errors.WithMessage(err, "ephemeral store peerId")
			}
			if m.Stores[i].Namespace, err = r.VarString(); err != nil {
				return m, errors.WithMessage(err, "ephemeral store namespace")
			}
			if m.Stores[i].Data, err = r.VarBytes(); err != nil {
				return m, errors.WithMessage(err, "ephemeral store data")
			}
		}
	case KindBatch:
		var n uint64
		if n, err = r.Uvarint(); err != nil {
			return m, errors.WithMessage(err, "batch length")
		}
		if n > uint64(r.Remaining()) {
			return m, errors.WithMessage(ErrTruncatedField, "batch length")
		}
		m.Messages = make([]ChannelMessage, n)
		for i := range m.Messages {
			if m.Messages[i], err = decodeChannelMessage(r); err != nil {
				return m, err
			}
		}
	default:
		return m, errors.WithMessagef(ErrUnknownMessageType, "channel kind 0x%02x", kindByte)
	}
	return m, nil
}

func encodeTransmission(w *Writer, t Transmission) {
	w.PutByte(byte(t.Kind))
	switch t.Kind {
	case TransmissionUpToDate:
		w.PutVarBytes(t.Version)
	case TransmissionSnapshot, TransmissionUpdate:
		w.PutCompressedBytes(t.Data)
		w.PutVarBytes(t.Version)
	case TransmissionUnavailable:
		// No body.
	}
}

func decodeTransmission(r *Reader) (Transmission, error) {
	var t Transmission
	var kindByte, err = r.Byte()
	if err != nil {
		return t, errors.WithMessage(err, "transmission kind")
	}
	t.Kind = TransmissionKind(kindByte)
	switch t.Kind {
	case TransmissionUpToDate:
		if t.Version, err = r.VarBytes(); err != nil {
			return t, errors.WithMessage(err, "transmission.version")
		}
	case TransmissionSnapshot, TransmissionUpdate:
		if t.Data, err = r.CompressedBytes(); err != nil {
			return t, errors.WithMessage(err, "transmission.data")
		}
		if t.Version, err = r.VarBytes(); err != nil {
			return t, errors.WithMessage(err, "transmission.version")
		}
	case TransmissionUnavailable:
		// No body.
	default:
		return t, errors.WithMessagef(ErrUnknownMessageType, "transmission kind 0x%02x", kindByte)
	}
	return t, nil
}

// Flatten recursively expands nested Batch messages into one flat,
// Batch-free list, in list order. This is the canonical form the outbound
// batcher and the synchronizer's update function both expect: a Batch
// containing another Batch collapses to a single level.
func Flatten(msgs []ChannelMessage) []ChannelMessage {
	var out = make([]ChannelMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind == KindBatch {
			out = append(out, Flatten(m.Messages)...)
		} else {
			out = append(out, m)
		}
	}
	return out
}
