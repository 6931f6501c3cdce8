//go:build linux

package link

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// shutdown half-closes both directions so a reader blocked in recv(2)
// returns before the descriptor is released.
func shutdown(nc net.Conn) error {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.Shutdown(int(fd), unix.SHUT_RDWR)
	}); err != nil {
		return err
	}
	// Already disconnected by the peer.
	if errors.Is(serr, unix.ENOTCONN) {
		return nil
	}
	return serr
}
