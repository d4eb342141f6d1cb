//go:build linux

package hook

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func startSocketManager(t *testing.T, verify bool) (*Manager, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "nhk")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	socket := filepath.Join(dir, "hook.sock")
	m := NewManager(ManagerOptions{
		SocketPath:   socket,
		StaleAfter:   time.Minute,
		Checker:      &fakeChecker{},
		VerifySender: verify,
	}, zap.NewNop())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Stop() })
	return m, socket
}

func sendDatagram(t *testing.T, socket string, msg *Message) {
	t.Helper()
	buf, err := AppendMessage(nil, msg)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: socket, Net: "unixgram"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSpoofedPIDIsRejected(t *testing.T) {
	m, socket := startSocketManager(t, true)
	self := uint32(os.Getpid())
	other := self + 100000

	sendDatagram(t, socket, report(MsgHookInstalled, other, 1, "open"))
	waitFor(t, func() bool { return m.Rejected() == 1 })

	sendDatagram(t, socket, report(MsgHookInstalled, self, 1, "open"))
	waitFor(t, func() bool { return m.Received() == 1 })

	targets := m.Targets()
	if len(targets) != 1 || targets[0].PID != self {
		t.Errorf("targets = %+v, want only pid %d", targets, self)
	}
}

func TestSenderCheckDisabled(t *testing.T) {
	m, socket := startSocketManager(t, false)
	other := uint32(os.Getpid()) + 100000

	sendDatagram(t, socket, report(MsgHookInstalled, other, 1, "open"))
	waitFor(t, func() bool { return m.Received() == 1 })

	if m.Rejected() != 0 {
		t.Errorf("Rejected = %d, want 0", m.Rejected())
	}
}
