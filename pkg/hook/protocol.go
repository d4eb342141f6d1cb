package hook

import (
	"encoding/binary"
	"fmt"
)

// Message types matching the engine's report_type field.
const (
	MsgHello         = 1 // engine loaded into a target
	MsgHookInstalled = 2 // payload: hooked symbol
	MsgHookFailed    = 3 // payload: reason
	MsgHeartbeat     = 4
	MsgDetach        = 5
	MsgTrace         = 6 // payload: one trace line
)

// ProtocolVersion is bumped on any change to the header layout.
const ProtocolVersion = 1

// HeaderSize is the fixed size of the binary wire protocol header.
const HeaderSize = 32

// MaxPayload is the maximum payload per message.
const MaxPayload = 16 * 1024

// Header is the Go representation of the engine's report header.
//
//	0      type
//	1      version
//	4:8    pid
//	8:12   tid
//	12:16  hook id
//	16:20  payload length
//	24:32  timestamp (ns)
type Header struct {
	MsgType     uint8
	Version     uint8
	PID         uint32
	TID         uint32
	HookID      uint32
	PayloadLen  uint32
	TimestampNS uint64
}

// Message is a complete engine report with header and optional payload.
type Message struct {
	Header  Header
	Payload []byte
}

// MsgTypeName returns a human-readable name for a message type.
func MsgTypeName(t uint8) string {
	switch t {
	case MsgHello:
		return "HELLO"
	case MsgHookInstalled:
		return "HOOK_INSTALLED"
	case MsgHookFailed:
		return "HOOK_FAILED"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgDetach:
		return "DETACH"
	case MsgTrace:
		return "TRACE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// ParseHeader decodes a 32-byte binary header.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("buffer too small: %d < %d", len(buf), HeaderSize)
	}

	h := Header{
		MsgType:     buf[0],
		Version:     buf[1],
		PID:         binary.LittleEndian.Uint32(buf[4:8]),
		TID:         binary.LittleEndian.Uint32(buf[8:12]),
		HookID:      binary.LittleEndian.Uint32(buf[12:16]),
		PayloadLen:  binary.LittleEndian.Uint32(buf[16:20]),
		TimestampNS: binary.LittleEndian.Uint64(buf[24:32]),
	}
	if h.Version != ProtocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version %d (want %d)", h.Version, ProtocolVersion)
	}
	if h.PayloadLen > MaxPayload {
		return Header{}, fmt.Errorf("payload length %d exceeds %d", h.PayloadLen, MaxPayload)
	}
	return h, nil
}

// ParseMessage decodes a complete message from a byte buffer.
func ParseMessage(buf []byte) (*Message, error) {
	hdr, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: hdr}

	if hdr.PayloadLen > 0 {
		if uint32(len(buf)) < uint32(HeaderSize)+hdr.PayloadLen {
			return nil, fmt.Errorf("payload truncated: have %d, need %d",
				len(buf)-HeaderSize, hdr.PayloadLen)
		}
		msg.Payload = make([]byte, hdr.PayloadLen)
		copy(msg.Payload, buf[HeaderSize:HeaderSize+hdr.PayloadLen])
	}

	return msg, nil
}

// AppendMessage encodes msg onto dst using the engine's wire layout.
// PayloadLen and Version are taken from the message payload and
// ProtocolVersion respectively.
func AppendMessage(dst []byte, msg *Message) ([]byte, error) {
	if len(msg.Payload) > MaxPayload {
		return nil, fmt.Errorf("payload length %d exceeds %d", len(msg.Payload), MaxPayload)
	}

	var hdr [HeaderSize]byte
	hdr[0] = msg.Header.MsgType
	hdr[1] = ProtocolVersion
	binary.LittleEndian.PutUint32(hdr[4:8], msg.Header.PID)
	binary.LittleEndian.PutUint32(hdr[8:12], msg.Header.TID)
	binary.LittleEndian.PutUint32(hdr[12:16], msg.Header.HookID)
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(msg.Payload)))
	binary.LittleEndian.PutUint64(hdr[24:32], msg.Header.TimestampNS)

	dst = append(dst, hdr[:]...)
	return append(dst, msg.Payload...), nil
}
