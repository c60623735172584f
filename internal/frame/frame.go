// Package frame implements the vmux wire codec.
//
// Every frame is a fixed 13-byte header followed by a payload:
//
//	[type:1][sourcePort:4][destPort:4][length:4][payload:length]
//
// All integers are big-endian.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	verrors "vmux/internal/errors"
)

// ── Constants ────────────────────────────────────────────────────────

const (
	// HeaderSize is the encoded size of a frame header.
	HeaderSize = 13
	// DefaultMaxPayload is the payload limit used when none is configured.
	DefaultMaxPayload = 16 * 1024
	// MaxPayloadLimit is the hard upper bound for any configured limit.
	MaxPayloadLimit = 16 * 1024 * 1024
	// Version is the protocol version carried in HELLO.
	Version = 1

	// CorrIDSize is the size of the correlation id in connect frames.
	CorrIDSize = 4
	// NonceSize is the size of the PING / PONG payload.
	NonceSize = 8
)

// Type identifies the kind of a frame.
type Type uint8

const (
	TypeConnectRequest Type = 0x01
	TypeConnectAck     Type = 0x02
	TypeConnectReject  Type = 0x03
	TypeData           Type = 0x04
	TypeClose          Type = 0x05
	TypeCloseAck       Type = 0x06
	TypePing           Type = 0x07
	TypePong           Type = 0x08
	TypeHello          Type = 0x09
)

var typeNames = map[Type]string{
	TypeConnectRequest: "CONNECT_REQUEST",
	TypeConnectAck:     "CONNECT_ACK",
	TypeConnectReject:  "CONNECT_REJECT",
	TypeData:           "DATA",
	TypeClose:          "CLOSE",
	TypeCloseAck:       "CLOSE_ACK",
	TypePing:           "PING",
	TypePong:           "PONG",
	TypeHello:          "HELLO",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
}

// Valid reports whether t is a known frame type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ── Frame ────────────────────────────────────────────────────────────

// Frame is one decoded unit on the wire. Payload is owned by the frame;
// Decode always allocates a fresh slice.
type Frame struct {
	Type    Type
	Src     uint32
	Dst     uint32
	Payload []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("%s src=%d dst=%d len=%d", f.Type, f.Src, f.Dst, len(f.Payload))
}

// ── Constructors ─────────────────────────────────────────────────────

func ConnectRequest(src, dst, corrID uint32) Frame {
	return Frame{Type: TypeConnectRequest, Src: src, Dst: dst, Payload: corrPayload(corrID)}
}

func ConnectAck(src, dst, corrID uint32) Frame {
	return Frame{Type: TypeConnectAck, Src: src, Dst: dst, Payload: corrPayload(corrID)}
}

// ConnectReject builds a CONNECT_REJECT with a human-readable reason.
func ConnectReject(src, dst, corrID uint32, reason string) Frame {
	p := make([]byte, CorrIDSize+len(reason))
	binary.BigEndian.PutUint32(p, corrID)
	copy(p[CorrIDSize:], reason)
	return Frame{Type: TypeConnectReject, Src: src, Dst: dst, Payload: p}
}

func Data(src, dst uint32, payload []byte) Frame {
	return Frame{Type: TypeData, Src: src, Dst: dst, Payload: payload}
}

func Close(src, dst uint32) Frame    { return Frame{Type: TypeClose, Src: src, Dst: dst} }
func CloseAck(src, dst uint32) Frame { return Frame{Type: TypeCloseAck, Src: src, Dst: dst} }

func Ping(nonce uint64) Frame { return Frame{Type: TypePing, Payload: noncePayload(nonce)} }

// Pong echoes the payload of a PING.
func Pong(payload []byte) Frame { return Frame{Type: TypePong, Payload: payload} }

// Hello announces the protocol version and the sender's advertised
// virtual port (0 when it has none).
func Hello(port uint32) Frame {
	return Frame{Type: TypeHello, Src: port, Payload: []byte{Version}}
}

func corrPayload(id uint32) []byte {
	p := make([]byte, CorrIDSize)
	binary.BigEndian.PutUint32(p, id)
	return p
}

func noncePayload(n uint64) []byte {
	p := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(p, n)
	return p
}

// ── Payload accessors ────────────────────────────────────────────────

// CorrID returns the correlation id of a connect frame.
func (f Frame) CorrID() (uint32, error) {
	switch f.Type {
	case TypeConnectRequest, TypeConnectAck:
		if len(f.Payload) != CorrIDSize {
			return 0, verrors.Protocol("%s payload is %d bytes, want %d", f.Type, len(f.Payload), CorrIDSize)
		}
	case TypeConnectReject:
		if len(f.Payload) < CorrIDSize {
			return 0, verrors.Protocol("%s payload is %d bytes, want at least %d", f.Type, len(f.Payload), CorrIDSize)
		}
	default:
		return 0, verrors.Protocol("%s carries no correlation id", f.Type)
	}
	return binary.BigEndian.Uint32(f.Payload), nil
}

// Reason returns the text of a CONNECT_REJECT.
func (f Frame) Reason() string {
	if f.Type != TypeConnectReject || len(f.Payload) < CorrIDSize {
		return ""
	}
	return string(f.Payload[CorrIDSize:])
}

// Nonce returns the nonce of a PING or PONG.
func (f Frame) Nonce() (uint64, error) {
	if len(f.Payload) != NonceSize {
		return 0, verrors.Protocol("%s payload is %d bytes, want %d", f.Type, len(f.Payload), NonceSize)
	}
	return binary.BigEndian.Uint64(f.Payload), nil
}

// HelloVersion returns the protocol version of a HELLO.
func (f Frame) HelloVersion() (uint8, error) {
	if len(f.Payload) != 1 {
		return 0, verrors.Protocol("HELLO payload is %d bytes, want 1", len(f.Payload))
	}
	return f.Payload[0], nil
}

// ── Encoding ─────────────────────────────────────────────────────────

// Encode serialises f. It fails with *EncodingError if the payload is
// larger than maxPayload.
func Encode(f Frame, maxPayload int) ([]byte, error) {
	return AppendEncode(make([]byte, 0, HeaderSize+len(f.Payload)), f, maxPayload)
}

// AppendEncode appends the encoding of f to dst.
func AppendEncode(dst []byte, f Frame, maxPayload int) ([]byte, error) {
	if len(f.Payload) > maxPayload {
		return dst, &verrors.EncodingError{Length: len(f.Payload), Max: maxPayload}
	}
	var hdr [HeaderSize]byte
	putHeader(hdr[:], f.Type, f.Src, f.Dst, uint32(len(f.Payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Payload...), nil
}

func putHeader(b []byte, t Type, src, dst, length uint32) {
	b[0] = byte(t)
	binary.BigEndian.PutUint32(b[1:5], src)
	binary.BigEndian.PutUint32(b[5:9], dst)
	binary.BigEndian.PutUint32(b[9:13], length)
}

// ── Decoding ─────────────────────────────────────────────────────────

// Decode reads exactly one frame from r. A clean EOF before the first
// header byte yields ErrStreamClosed; every other failure is a
// *ProtocolError.
func Decode(r io.Reader, maxPayload int) (Frame, error) {
	var hdr [HeaderSize]byte
	return decode(r, hdr[:], maxPayload)
}

func decode(r io.Reader, hdr []byte, maxPayload int) (Frame, error) {
	if _, err := io.ReadFull(r, hdr); err != nil {
		if err == io.EOF {
			return Frame{}, verrors.ErrStreamClosed
		}
		return Frame{}, &verrors.ProtocolError{Reason: "truncated header", Err: err}
	}
	f := Frame{
		Type: Type(hdr[0]),
		Src:  binary.BigEndian.Uint32(hdr[1:5]),
		Dst:  binary.BigEndian.Uint32(hdr[5:9]),
	}
	if !f.Type.Valid() {
		return Frame{}, verrors.Protocol("unknown frame type 0x%02x", hdr[0])
	}
	length := binary.BigEndian.Uint32(hdr[9:13])
	if uint64(length) > uint64(maxPayload) {
		return Frame{}, verrors.Protocol("declared length %d exceeds maximum %d", length, maxPayload)
	}
	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, &verrors.ProtocolError{Reason: "truncated payload", Err: err}
		}
	}
	return f, nil
}
