package reactor

import (
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Dispatcher receives every descriptor accepted by an Acceptor.
type Dispatcher interface {
	Dispatch(fd int, peer unix.Sockaddr)
}

// Acceptor is a non-blocking listening TCP socket owned by the main loop.
type Acceptor struct {
	fd         int
	addr       *net.TCPAddr
	dispatcher Dispatcher
}

// Listen binds a listening socket on addr ("host:port", IPv4 only).
func Listen(addr string) (*Acceptor, error) {
	resolved, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address %s: %w", addr, err)
	}
	sa, err := sockaddrInet4(resolved.IP, resolved.Port)
	if err != nil {
		return nil, err
	}

	fd, err := newSocket(unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return &Acceptor{fd: fd, addr: localTCPAddr(fd)}, nil
}

// Addr is the bound address, with the kernel chosen port when 0 was requested.
func (a *Acceptor) Addr() *net.TCPAddr {
	return a.addr
}

func (a *Acceptor) Fd() int {
	return a.fd
}

func (a *Acceptor) events() uint32 {
	return unix.EPOLLIN
}

func (a *Acceptor) handleRead() {
	for {
		nfd, sa, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
		case wouldBlock(err):
			return
		case err == unix.EINTR || err == unix.ECONNABORTED:
			continue
		default:
			log.WithError(err).Warn("accept failed")
			return
		}

		if a.dispatcher == nil {
			unix.Close(nfd)
			continue
		}
		a.dispatcher.Dispatch(nfd, sa)
	}
}

func (a *Acceptor) handleWrite() {}

func (a *Acceptor) handleClose() {
	unix.Close(a.fd)
}
