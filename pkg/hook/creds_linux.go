//go:build linux

package hook

import (
	"net"

	"golang.org/x/sys/unix"
)

const credentialsSupported = true

var credentialsSize = unix.CmsgSpace(unix.SizeofUcred)

// enablePassCred asks the kernel to attach SCM_CREDENTIALS to every datagram.
func enablePassCred(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	}); err != nil {
		return err
	}
	return serr
}

// senderPID returns the pid from the SCM_CREDENTIALS message in oob.
func senderPID(oob []byte) (uint32, bool) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, false
	}
	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_CREDENTIALS {
			continue
		}
		cred, err := unix.ParseUnixCredentials(&msgs[i])
		if err != nil {
			return 0, false
		}
		return uint32(cred.Pid), true
	}
	return 0, false
}
