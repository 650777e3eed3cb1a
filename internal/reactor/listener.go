package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenBacklog is the kernel backlog for the SO_REUSEPORT listening
// socket, fixed at 128.
const listenBacklog = 128

// listener wraps a non-blocking, SO_REUSEPORT+SO_REUSEADDR raw socket
// bound to host:port. Every reactor process calls Listen independently
// on the same address; the kernel load-balances accepts across them —
// there is no userspace coordination.
type listener struct {
	fd   int
	addr unix.Sockaddr
}

// listen creates and binds the SO_REUSEPORT socket. Every reactor in
// the supervisor's fleet calls this against the same host:port.
func listen(host string, port int) (*listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: SO_REUSEADDR: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: SO_REUSEPORT: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: SetNonblock: %w", err)
	}

	sa, err := sockaddr(host, port)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: bind %s:%d: %w", host, port, err)
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: listen: %w", err)
	}

	return &listener{fd: fd, addr: sa}, nil
}

func sockaddr(host string, port int) (unix.Sockaddr, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return nil, fmt.Errorf("reactor: resolve %s: %w", host, err)
		}

		ip = resolved.IP
	}

	var addr [4]byte
	copy(addr[:], ip.To4())

	return &unix.SockaddrInet4{Port: port, Addr: addr}, nil
}

// acceptAll accepts every connection currently queued on the listening
// socket, stopping at EAGAIN, and returns their non-blocking client
// fds.
func (l *listener) acceptAll() ([]int, error) {
	var fds []int

	for {
		connFd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return fds, nil
			}

			return fds, fmt.Errorf("reactor: accept: %w", err)
		}

		fds = append(fds, connFd)
	}
}

func (l *listener) Close() error {
	return unix.Close(l.fd)
}
