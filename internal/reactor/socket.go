package reactor

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

var ErrNotIPv4 = errors.New("only IPv4 addresses are supported")

const listenBacklog = 1024

func sockaddrInet4(ip net.IP, port int) (*unix.SockaddrInet4, error) {
	sa := &unix.SockaddrInet4{Port: port}
	if ip == nil || ip.IsUnspecified() {
		return sa, nil
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotIPv4, ip)
	}
	copy(sa.Addr[:], v4)
	return sa, nil
}

func tcpAddr(sa unix.Sockaddr) *net.TCPAddr {
	if in, ok := sa.(*unix.SockaddrInet4); ok {
		return &net.TCPAddr{IP: net.IPv4(in.Addr[0], in.Addr[1], in.Addr[2], in.Addr[3]), Port: in.Port}
	}
	return &net.TCPAddr{}
}

func udpAddr(sa unix.Sockaddr) *net.UDPAddr {
	if in, ok := sa.(*unix.SockaddrInet4); ok {
		return &net.UDPAddr{IP: net.IPv4(in.Addr[0], in.Addr[1], in.Addr[2], in.Addr[3]), Port: in.Port}
	}
	return &net.UDPAddr{}
}

func localTCPAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return &net.TCPAddr{}
	}
	return tcpAddr(sa)
}

func newSocket(typ int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to create socket: %w", err)
	}
	if typ != unix.SOCK_STREAM {
		return fd, nil
	}
	// datagram sockets must fail with EADDRINUSE on a taken port
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}
	return fd, nil
}

// wouldBlock reports whether err only means the descriptor is not ready.
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
