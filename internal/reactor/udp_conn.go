package reactor

import (
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const maxDatagramSize = 64 * 1024

// PacketHandler receives datagrams arriving on a watched UDPConn, on the
// connection's loop.
type PacketHandler interface {
	HandlePacket(c *UDPConn, b []byte)
}

// UDPConn is a bound, non-blocking datagram socket. Writes are fire and
// forget.
type UDPConn struct {
	fd      int
	loop    *EventLoop
	local   *net.UDPAddr
	peer    *net.UDPAddr
	handler PacketHandler
	watched bool
	closed  bool
	log     *log.Entry
}

// ListenUDP binds a datagram socket on the given local port of every
// interface.
func ListenUDP(loop *EventLoop, port int) (*UDPConn, error) {
	sa, err := sockaddrInet4(nil, port)
	if err != nil {
		return nil, err
	}
	fd, err := newSocket(unix.SOCK_DGRAM)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind udp port %d: %w", port, err)
	}

	local := &net.UDPAddr{Port: port}
	if bound, err := unix.Getsockname(fd); err == nil {
		local = udpAddr(bound)
	}
	return &UDPConn{
		fd:    fd,
		loop:  loop,
		local: local,
		log:   loop.log.WithField("udp", local.Port),
	}, nil
}

// Connect fixes the peer the socket sends to and receives from.
func (c *UDPConn) Connect(peer *net.UDPAddr) error {
	sa, err := sockaddrInet4(peer.IP, peer.Port)
	if err != nil {
		return err
	}
	if err := unix.Connect(c.fd, sa); err != nil {
		return fmt.Errorf("failed to connect udp socket to %s: %w", peer, err)
	}
	c.peer = peer
	return nil
}

func (c *UDPConn) Fd() int {
	return c.fd
}

func (c *UDPConn) LocalAddr() *net.UDPAddr {
	return c.local
}

func (c *UDPConn) RemoteAddr() *net.UDPAddr {
	return c.peer
}

// Write sends one datagram to the connected peer. A full socket buffer drops
// the datagram silently.
func (c *UDPConn) Write(b []byte) error {
	if c.closed {
		return net.ErrClosed
	}
	if c.peer == nil {
		return errors.New("udp socket is not connected")
	}
	_, err := unix.Write(c.fd, b)
	switch {
	case err == nil, wouldBlock(err), errors.Is(err, unix.ECONNREFUSED):
		return nil
	default:
		return fmt.Errorf("udp write to %s failed: %w", c.peer, err)
	}
}

// Watch registers the socket with its loop and delivers inbound datagrams to
// h. Must be called on the loop.
func (c *UDPConn) Watch(h PacketHandler) error {
	if c.watched {
		c.handler = h
		return nil
	}
	c.handler = h
	if err := c.loop.Register(c); err != nil {
		return err
	}
	c.watched = true
	return nil
}

func (c *UDPConn) events() uint32 {
	return unix.EPOLLIN
}

func (c *UDPConn) handleRead() {
	buf := c.loop.readBuf[:maxDatagramSize]
	n, err := unix.Read(c.fd, buf)
	switch {
	case err == nil:
	case wouldBlock(err), errors.Is(err, unix.ECONNREFUSED):
		return
	default:
		c.log.WithError(err).Debug("udp read failed")
		return
	}
	if c.handler != nil && n > 0 {
		c.handler.HandlePacket(c, buf[:n])
	}
}

func (c *UDPConn) handleWrite() {}

func (c *UDPConn) handleClose() {
	if c.closed {
		return
	}
	c.closed = true
	if c.watched {
		c.loop.Unregister(c)
		c.watched = false
	}
	unix.Close(c.fd)
}

// Close deregisters and closes the socket. Must be called on the loop when
// the socket is watched.
func (c *UDPConn) Close() {
	c.handleClose()
}
