package control

import (
	"context"
	"net"
	"syscall"
)

type peerPidKey struct{}

// withPeerPid attaches pid to ctx so a Handler can recover the pid of the
// process on the other end of a control-socket connection.
func withPeerPid(ctx context.Context, pid int) context.Context {
	return context.WithValue(ctx, peerPidKey{}, pid)
}

// PeerPid returns the pid of the process that opened the control-socket
// connection a request arrived on, or 0 if it could not be determined
// (e.g. the request came through something other than serveConn).
func PeerPid(ctx context.Context) int {
	pid, _ := ctx.Value(peerPidKey{}).(int)
	return pid
}

// peerCredPid reads SO_PEERCRED off a Unix domain socket connection to
// recover the pid of the connecting process. The kernel, not the peer,
// supplies this value, so it cannot be spoofed by a malicious client the
// way a JSON-supplied pid could be.
func peerCredPid(conn net.Conn) int {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0
	}
	var pid int
	_ = raw.Control(func(fd uintptr) {
		cred, err := syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
		if err != nil {
			return
		}
		pid = int(cred.Pid)
	})
	return pid
}
