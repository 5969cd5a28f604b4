//go:build !windows

package netutil

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// permitReuse enables port and address sharing on the socket, mirroring
// pkg/util/net_unix.go's permitReuse. It is used for the default-backlog
// path, where net.ListenConfig otherwise does all the syscall work.
func permitReuse(network, addr string, conn syscall.RawConn) error {
	var ctrlErr error
	err := conn.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			ctrlErr = e
			return
		}
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// listenBacklog performs the bind/listen sequence by hand with an explicit
// backlog argument to listen(2). net.ListenConfig.Control runs before bind,
// so it cannot be used to override the backlog the net package itself
// passes to listen(2) afterwards; the only correct way to honor a
// configured backlog is to own the whole socket()/bind()/listen() sequence
// and hand the resulting fd to net.FileListener.
func listenBacklog(addr *net.TCPAddr, backlog int) (net.Listener, error) {
	domain := unix.AF_INET
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: addr.Port}
		if addr.IP != nil {
			copy(sa6.Addr[:], addr.IP.To16())
		}
		return listenBacklogSockaddr(domain, sa6, backlog, addr.String())
	}
	return listenBacklogSockaddr(domain, sa, backlog, addr.String())
}

func listenBacklogSockaddr(domain int, sa unix.Sockaddr, backlog int, addrStr string) (net.Listener, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEPORT: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addrStr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addrStr, err)
	}

	f := os.NewFile(uintptr(fd), addrStr)
	defer f.Close()
	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("FileListener %s: %w", addrStr, err)
	}
	return l, nil
}
