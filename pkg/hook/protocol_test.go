package hook

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = MsgHookInstalled                          // report_type
	buf[1] = ProtocolVersion                           // version
	binary.LittleEndian.PutUint32(buf[4:8], 12345)     // pid
	binary.LittleEndian.PutUint32(buf[8:12], 67890)    // tid
	binary.LittleEndian.PutUint32(buf[12:16], 7)       // hook id
	binary.LittleEndian.PutUint32(buf[16:20], 100)     // payload_len
	binary.LittleEndian.PutUint64(buf[24:32], 1000000) // timestamp

	hdr, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader error: %v", err)
	}

	if hdr.MsgType != MsgHookInstalled {
		t.Errorf("MsgType = %d, want %d", hdr.MsgType, MsgHookInstalled)
	}
	if hdr.PID != 12345 {
		t.Errorf("PID = %d, want 12345", hdr.PID)
	}
	if hdr.TID != 67890 {
		t.Errorf("TID = %d, want 67890", hdr.TID)
	}
	if hdr.HookID != 7 {
		t.Errorf("HookID = %d, want 7", hdr.HookID)
	}
	if hdr.PayloadLen != 100 {
		t.Errorf("PayloadLen = %d, want 100", hdr.PayloadLen)
	}
	if hdr.TimestampNS != 1000000 {
		t.Errorf("TimestampNS = %d, want 1000000", hdr.TimestampNS)
	}
}

func TestParseHeaderRejectsOtherVersion(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = MsgHeartbeat
	buf[1] = ProtocolVersion + 1

	_, err := ParseHeader(buf)
	if err == nil || !strings.Contains(err.Error(), "unsupported protocol version") {
		t.Fatalf("err = %v, want version error", err)
	}
}

func TestParseHeaderRejectsOversizedPayload(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = MsgTrace
	buf[1] = ProtocolVersion
	binary.LittleEndian.PutUint32(buf[16:20], MaxPayload+1)

	if _, err := ParseHeader(buf); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestParseHeaderShortBuffer(t *testing.T) {
	if _, err := ParseHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestAppendMessageParses(t *testing.T) {
	in := &Message{
		Header: Header{
			MsgType:     MsgHookInstalled,
			PID:         100,
			TID:         200,
			HookID:      3,
			TimestampNS: 42,
		},
		Payload: []byte("nhook_sign"),
	}

	buf, err := AppendMessage(nil, in)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if len(buf) != HeaderSize+len(in.Payload) {
		t.Fatalf("encoded length = %d", len(buf))
	}

	out, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if out.Header.Version != ProtocolVersion {
		t.Errorf("Version = %d, want %d", out.Header.Version, ProtocolVersion)
	}
	if out.Header.PayloadLen != uint32(len(in.Payload)) {
		t.Errorf("PayloadLen = %d", out.Header.PayloadLen)
	}
	if string(out.Payload) != "nhook_sign" {
		t.Errorf("payload = %q", out.Payload)
	}
}

func TestParseMessageTruncatedPayload(t *testing.T) {
	buf, _ := AppendMessage(nil, &Message{
		Header:  Header{MsgType: MsgTrace},
		Payload: []byte("0x7f00: ret"),
	})

	if _, err := ParseMessage(buf[:len(buf)-3]); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestAppendMessageTooLarge(t *testing.T) {
	_, err := AppendMessage(nil, &Message{Payload: make([]byte, MaxPayload+1)})
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestMsgTypeName(t *testing.T) {
	tests := []struct {
		t    uint8
		name string
	}{
		{MsgHello, "HELLO"},
		{MsgHookInstalled, "HOOK_INSTALLED"},
		{MsgHookFailed, "HOOK_FAILED"},
		{MsgHeartbeat, "HEARTBEAT"},
		{MsgDetach, "DETACH"},
		{MsgTrace, "TRACE"},
		{99, "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := MsgTypeName(tt.t); got != tt.name {
			t.Errorf("MsgTypeName(%d) = %q, want %q", tt.t, got, tt.name)
		}
	}
}
