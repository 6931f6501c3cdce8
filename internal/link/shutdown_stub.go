//go:build !linux

package link

import "net"

func shutdown(nc net.Conn) error {
	if tc, ok := nc.(*net.TCPConn); ok {
		return tc.CloseRead()
	}
	return nil
}
