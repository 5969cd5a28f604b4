//go:build windows

package netutil

import (
	"net"
	"syscall"
)

func listenBacklog(addr *net.TCPAddr, backlog int) (net.Listener, error) {
	// Windows has no portable listen(2) backlog override reachable from the
	// standard library without cgo; fall back to the platform default.
	return net.ListenTCP("tcp", addr)
}

func permitReuse(network, addr string, conn syscall.RawConn) error {
	return nil
}
