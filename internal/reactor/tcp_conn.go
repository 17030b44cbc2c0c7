package reactor

import (
	"net"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Protocol consumes the bytes of one TCP connection. Both methods run on the
// connection's loop.
type Protocol interface {
	// HandleMessage is called whenever new bytes were appended to the inbound
	// buffer.
	HandleMessage(c *TCPConn)
	HandleClose(c *TCPConn)
}

// ConnHandler builds the Protocol of every accepted connection.
type ConnHandler interface {
	NewProtocol(c *TCPConn) Protocol
}

// TCPConn is an accepted connection owned by exactly one loop.
type TCPConn struct {
	id     string
	fd     int
	loop   *EventLoop
	local  *net.TCPAddr
	remote *net.TCPAddr
	proto  Protocol

	in      []byte
	out     []byte
	writing bool
	closed  bool

	log *log.Entry
}

func newTCPConn(loop *EventLoop, fd int, peer unix.Sockaddr) *TCPConn {
	c := &TCPConn{
		id:     uuid.NewString(),
		fd:     fd,
		loop:   loop,
		local:  localTCPAddr(fd),
		remote: tcpAddr(peer),
	}
	c.log = loop.log.WithFields(log.Fields{
		"conn": c.id,
		"peer": c.remote.String(),
	})
	return c
}

func (c *TCPConn) ID() string {
	return c.id
}

func (c *TCPConn) Fd() int {
	return c.fd
}

func (c *TCPConn) Loop() *EventLoop {
	return c.loop
}

func (c *TCPConn) LocalAddr() *net.TCPAddr {
	return c.local
}

func (c *TCPConn) RemoteAddr() *net.TCPAddr {
	return c.remote
}

func (c *TCPConn) Logger() *log.Entry {
	return c.log
}

// Buffered returns the unconsumed inbound bytes. The slice is only valid until
// the next call to Discard or the next read.
func (c *TCPConn) Buffered() []byte {
	return c.in
}

// Discard drops the first n inbound bytes.
func (c *TCPConn) Discard(n int) {
	if n >= len(c.in) {
		c.in = c.in[:0]
		return
	}
	c.in = append(c.in[:0], c.in[n:]...)
}

func (c *TCPConn) events() uint32 {
	ev := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if c.writing {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Send writes b to the peer. Bytes the socket does not accept immediately are
// buffered and flushed once the socket becomes writable. Safe from any
// goroutine, the write is marshaled onto the owning loop.
func (c *TCPConn) Send(b []byte) {
	if c.loop.InLoop() {
		c.send(b)
		return
	}
	buf := append([]byte(nil), b...)
	c.loop.RunInLoop(func() {
		c.send(buf)
	})
}

func (c *TCPConn) send(b []byte) {
	if c.closed || len(b) == 0 {
		return
	}
	if len(c.out) > 0 {
		c.out = append(c.out, b...)
		return
	}

	n, err := unix.Write(c.fd, b)
	switch {
	case err == nil:
	case wouldBlock(err):
		n = 0
	default:
		c.fail(err)
		return
	}
	if n < len(b) {
		c.out = append(c.out, b[n:]...)
		c.setWriting(true)
	}
}

func (c *TCPConn) setWriting(on bool) {
	if c.writing == on {
		return
	}
	c.writing = on
	c.loop.modify(c, c.events())
}

// fail reports a write error. The socket is shut down so the loop observes the
// hang-up and closes the connection through the regular read path.
func (c *TCPConn) fail(err error) {
	c.log.WithError(err).Debug("write failed")
	c.out = nil
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
}

func (c *TCPConn) handleRead() {
	buf := c.loop.readBuf
	n, err := unix.Read(c.fd, buf)
	switch {
	case err != nil && wouldBlock(err):
		return
	case err != nil:
		c.log.WithError(err).Debug("read failed")
		c.handleClose()
		return
	case n == 0:
		c.handleClose()
		return
	}

	c.in = append(c.in, buf[:n]...)
	if c.proto != nil {
		c.proto.HandleMessage(c)
	}
}

func (c *TCPConn) handleWrite() {
	if len(c.out) == 0 {
		c.setWriting(false)
		return
	}
	n, err := unix.Write(c.fd, c.out)
	switch {
	case err == nil:
	case wouldBlock(err):
		return
	default:
		c.fail(err)
		return
	}
	c.out = c.out[n:]
	if len(c.out) == 0 {
		c.out = nil
		c.setWriting(false)
	}
}

func (c *TCPConn) handleClose() {
	if c.closed {
		return
	}
	c.closed = true
	c.loop.Unregister(c)
	unix.Close(c.fd)
	connectionsActive.WithLabelValues(c.loop.name).Dec()
	c.log.Debug("connection closed")

	if c.proto != nil {
		c.proto.HandleClose(c)
	}
}

// Close closes the connection from the server side. The protocol's
// HandleClose still runs.
func (c *TCPConn) Close() {
	c.loop.RunInLoop(c.handleClose)
}
