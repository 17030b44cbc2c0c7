package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// notifier wakes a loop from other threads and carries the callbacks queued
// for it.
type notifier struct {
	fd      int
	mu      sync.Mutex
	pending []func()
	closed  bool
}

func newNotifier() (*notifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create eventfd: %w", err)
	}
	return &notifier{fd: fd}, nil
}

func (n *notifier) Fd() int {
	return n.fd
}

func (n *notifier) events() uint32 {
	return unix.EPOLLIN
}

func (n *notifier) enqueue(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.pending = append(n.pending, fn)
	n.signal()
}

func (n *notifier) wake() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.signal()
	}
}

func (n *notifier) signal() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	// EAGAIN means the counter is saturated and the loop is already awake.
	_, _ = unix.Write(n.fd, b[:])
}

func (n *notifier) handleRead() {
	var b [8]byte
	_, _ = unix.Read(n.fd, b[:])

	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

func (n *notifier) handleWrite() {}

func (n *notifier) handleClose() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.pending = nil
	unix.Close(n.fd)
}
