package wire

import (
	"github.com/pkg/errors"
)

// Magic identifies the CRDT family carried by an Envelope.
type Magic [4]byte

// The three magic tags defined by the protocol.
var (
	MagicLoro               = Magic{'l', 'o', 'r', 'o'}
	MagicEphemeral           = Magic{'e', 'p', 'h', 'm'}
	MagicEphemeralPersisted = Magic{'e', 'p', 'h', 'P'}
)

func magicFromBytes(b []byte) (Magic, error) {
	var m Magic
	switch string(b) {
	case string(MagicLoro[:]):
		m = MagicLoro
	case string(MagicEphemeral[:]):
		m = MagicEphemeral
	case string(MagicEphemeralPersisted[:]):
		m = MagicEphemeralPersisted
	default:
		return m, errors.WithMessagef(ErrUnknownMagic, "%q", b)
	}
	return m, nil
}

// MessageType is the top-level frame discriminant.
type MessageType byte

// Top-level message types. Establishment (Join*) and Leave are distinct
// wire types; every other channel message (new-doc, directory exchange,
// sync exchange, ephemeral, batch) is unified under DocUpdate, as permitted
// by the protocol's "MAY unify" clause.
const (
	JoinRequest    MessageType = 0x01
	JoinResponseOk MessageType = 0x02
	JoinError      MessageType = 0x03
	DocUpdate      MessageType = 0x10
	UpdateError    MessageType = 0x11
	Leave          MessageType = 0x20
)

func (t MessageType) known() bool {
	switch t {
	case JoinRequest, JoinResponseOk, JoinError, DocUpdate, UpdateError, Leave:
		return true
	}
	return false
}

// String renders t for logging and metric labels.
func (t MessageType) String() string {
	switch t {
	case JoinRequest:
		return "join-request"
	case JoinResponseOk:
		return "join-response-ok"
	case JoinError:
		return "join-error"
	case DocUpdate:
		return "doc-update"
	case UpdateError:
		return "update-error"
	case Leave:
		return "leave"
	default:
		return "unknown"
	}
}

// Identity identifies a peer for the purpose of the establishment
// handshake.
type Identity struct {
	PeerID string
	Name   string
	Type   string
}

func (id Identity) encode(w *Writer) {
	w.PutVarString(id.PeerID)
	w.PutVarString(id.Name)
	w.PutVarString(id.Type)
}

func decodeIdentity(r *Reader) (Identity, error) {
	var id Identity
	var err error
	if id.PeerID, err = r.VarString(); err != nil {
		return id, errors.WithMessage(err, "identity.peerId")
	}
	if id.Name, err = r.VarString(); err != nil {
		return id, errors.WithMessage(err, "identity.name")
	}
	if id.Type, err = r.VarString(); err != nil {
		return id, errors.WithMessage(err, "identity.type")
	}
	return id, nil
}

// ErrorCode is a single-byte, open-ended application error enum carried by
// an UpdateError body.
type ErrorCode byte

// Defined error codes. CodeApp is an extension point: it is followed by an
// additional ULEB128 application-specific code.
const (
	CodeNone           ErrorCode = 0x00
	CodeDecode         ErrorCode = 0x01
	CodePermission     ErrorCode = 0x02
	CodeUnknownPeer    ErrorCode = 0x03
	CodeChannelStopped ErrorCode = 0x04
	CodeTimeout        ErrorCode = 0x05
	CodeAdapterFault   ErrorCode = 0x06
	CodeApp            ErrorCode = 0xff
)

// Message is the decoded, in-memory form of a wire Envelope. Exactly one of
// the typed fields is populated, selected by Type.
type Message struct {
	Magic Magic
	Type  MessageType

	// JoinRequest / JoinResponseOk body.
	Identity Identity
	// JoinError body.
	Reason string
	// DocUpdate body: the unified channel message.
	Channel ChannelMessage
	// UpdateError body.
	ErrCode   ErrorCode
	AppCode   uint64
	ErrDetail string
}

// Encode renders m as a complete wire frame: magic, type, body.
func Encode(m Message) []byte {
	var w = NewWriter()
	w.PutRaw(m.Magic[:])
	w.PutByte(byte(m.Type))

	switch m.Type {
	case JoinRequest, JoinResponseOk:
		m.Identity.encode(w)
	case JoinError:
		w.PutVarString(m.Reason)
	case DocUpdate:
		encodeChannelMessage(w, m.Channel)
	case UpdateError:
		w.PutByte(byte(m.ErrCode))
		if m.ErrCode == CodeApp {
			w.PutUvarint(m.AppCode)
		}
		w.PutVarString(m.ErrDetail)
	case Leave:
		// No body.
	}
	return w.Bytes()
}

// Decode parses a complete wire frame previously produced by Encode.
func Decode(frame []byte) (Message, error) {
	var m Message
	if len(frame) < 5 {
		return m, ErrShortFrame
	}
	var magic, err = magicFromBytes(frame[:4])
	if err != nil {
		return m, err
	}
	m.Magic = magic

	var r = NewReader(frame[4:])
	var typeByte byte
	if typeByte, err = r.Byte(); err != nil {
		return m, errors.WithMessage(err, "message type")
	}
	m.Type = MessageType(typeByte)
	if !m.Type.known() {
		return m, errors.WithMessagef(ErrUnknownMessageType, "0x%02x", typeByte)
	}

	switch m.Type {
	case JoinRequest, JoinResponseOk:
		if m.Identity, err = decodeIdentity(r); err != nil {
			return m, err
		}
	case JoinError:
		if m.Reason, err = r.VarString(); err != nil {
			return m, errors.WithMessage(err, "reason")
		}
	case DocUpdate:
		if m.Channel, err = decodeChannelMessage(r); err != nil {
			return m, err
		}
	case UpdateError:
		var b byte
		if b, err = r.Byte(); err != nil {
			return m, errors.WithMessage(err, "error code")
		}
		m.ErrCode = ErrorCode(b)
		if m.ErrCode == CodeApp {
			if m.AppCode, err = r.Uvarint(); err != nil {
				return m, errors.WithMessage(err, "app code")
			}
		}
		if m.ErrDetail, err = r.VarString(); err != nil {
			return m, errors.WithMessage(err, "error detail")
		}
	case Leave:
		// No body.
	}
	return m, nil
}
