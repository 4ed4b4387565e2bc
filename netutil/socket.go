// Package netutil provides the raw, non-blocking socket primitives the
// reactor-driven HTTP core runs on: listen socket setup, non-blocking
// accept with TCP_NODELAY, anonymous-pipe FD passing between the
// acceptor and its workers, and vectored writes.
//
// tqdbproxy never drops to this level (it is built entirely on
// net.Listener/net.Conn), so this package is a from-scratch component
// per spec.md §4.2, built directly on golang.org/x/sys/unix the way the
// pack's lower-level networking files do.
package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ListenTCP creates an AF_INET stream listen socket bound to addr:port,
// non-blocking, with SO_REUSEADDR and SO_REUSEPORT set so multiple
// worker-owned listeners can share the port (spec.md §4.2).
func ListenTCP(addr [4]byte, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: set nonblocking: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: SO_REUSEPORT: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: listen: %w", err)
	}
	return fd, nil
}

// Accept performs one non-blocking accept on listenFD. ok=false with a
// nil error means EWOULDBLOCK/EAGAIN: the accept queue is drained for
// now. The returned fd has O_NONBLOCK and TCP_NODELAY already set.
func Accept(listenFD int) (fd int, ok bool, err error) {
	nfd, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, false, nil
		}
		return -1, false, err
	}
	if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(nfd)
		return -1, false, fmt.Errorf("netutil: TCP_NODELAY: %w", err)
	}
	return nfd, true, nil
}

// Close closes a raw file descriptor obtained from this package.
func Close(fd int) error { return unix.Close(fd) }
