package reactor

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	DefaultPollTimeout = time.Second
	maxEvents          = 256
	readBufferSize     = 64 * 1024
)

// Channel is a descriptor the loop dispatches readiness events to.
type Channel interface {
	Fd() int
	events() uint32
	handleRead()
	handleWrite()
	handleClose()
}

// EventLoop is a single threaded epoll reactor. Everything registered with a
// loop is only ever touched from the OS thread running Run.
type EventLoop struct {
	name        string
	epfd        int
	pollTimeout time.Duration
	tid         int64
	stopped     atomic.Bool
	finished    chan struct{}

	notifier  *notifier
	timers    *timerQueue
	nextTimer uint64
	channels  map[int]Channel

	readBuf []byte
	log     *log.Entry
}

// NewEventLoop creates the epoll instance and the loop's internal eventfd and
// timerfd descriptors.
func NewEventLoop(name string, pollTimeout time.Duration) (*EventLoop, error) {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}

	n, err := newNotifier()
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	q, err := newTimerQueue()
	if err != nil {
		unix.Close(epfd)
		n.handleClose()
		return nil, err
	}

	l := &EventLoop{
		name:        name,
		epfd:        epfd,
		pollTimeout: pollTimeout,
		finished:    make(chan struct{}),
		notifier:    n,
		timers:      q,
		channels:    make(map[int]Channel),
		readBuf:     make([]byte, readBufferSize),
		log:         log.WithField("loop", name),
	}

	for _, ch := range []Channel{n, q} {
		if err := l.add(ch); err != nil {
			unix.Close(epfd)
			n.handleClose()
			q.handleClose()
			return nil, err
		}
	}
	return l, nil
}

func (l *EventLoop) Name() string {
	return l.name
}

// InLoop reports whether the caller runs on the loop's thread.
func (l *EventLoop) InLoop() bool {
	tid := atomic.LoadInt64(&l.tid)
	return tid != 0 && tid == int64(unix.Gettid())
}

func (l *EventLoop) assertInLoop(op string) {
	if !l.InLoop() {
		l.log.Panicf("%s called from thread %d, loop is owned by thread %d",
			op, unix.Gettid(), atomic.LoadInt64(&l.tid))
	}
}

// Register starts dispatching events for ch. Must be called on the loop.
func (l *EventLoop) Register(ch Channel) error {
	l.assertInLoop("Register")
	return l.add(ch)
}

// Unregister stops dispatching events for ch. Must be called on the loop.
func (l *EventLoop) Unregister(ch Channel) {
	l.assertInLoop("Unregister")
	if _, ok := l.channels[ch.Fd()]; !ok {
		return
	}
	delete(l.channels, ch.Fd())
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, ch.Fd(), nil); err != nil {
		l.log.WithError(err).Debugf("failed to remove fd %d from epoll", ch.Fd())
	}
}

func (l *EventLoop) add(ch Channel) error {
	ev := unix.EpollEvent{Events: ch.events(), Fd: int32(ch.Fd())}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, ch.Fd(), &ev); err != nil {
		return fmt.Errorf("failed to add fd %d to epoll: %w", ch.Fd(), err)
	}
	l.channels[ch.Fd()] = ch
	return nil
}

func (l *EventLoop) modify(ch Channel, events uint32) {
	ev := unix.EpollEvent{Events: events, Fd: int32(ch.Fd())}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, ch.Fd(), &ev); err != nil {
		l.log.WithError(err).Warnf("failed to update epoll interest for fd %d", ch.Fd())
	}
}

// RunInLoop runs fn on the loop thread. Called on the loop it runs fn
// immediately, otherwise fn is queued behind earlier submissions.
func (l *EventLoop) RunInLoop(fn func()) {
	if l.InLoop() {
		fn()
		return
	}
	l.notifier.enqueue(fn)
}

// QueueInLoop always defers fn to the next drain of the pending queue, even
// when called on the loop.
func (l *EventLoop) QueueInLoop(fn func()) {
	l.notifier.enqueue(fn)
}

func (l *EventLoop) AddOneShotTimer(delay time.Duration, fn func()) TimerID {
	return l.addTimer(delay, 0, fn)
}

// AddPeriodicTimer fires fn after delay and then every interval until the
// timer is removed.
func (l *EventLoop) AddPeriodicTimer(delay, interval time.Duration, fn func()) TimerID {
	return l.addTimer(delay, interval, fn)
}

func (l *EventLoop) addTimer(delay, interval time.Duration, fn func()) TimerID {
	t := &timer{
		id:       TimerID(atomic.AddUint64(&l.nextTimer, 1)),
		deadline: time.Now().Add(delay),
		interval: interval,
		fn:       fn,
		index:    -1,
	}
	l.RunInLoop(func() {
		l.timers.add(t)
	})
	return t.id
}

// RemoveTimer cancels a timer. Removing a timer that already fired or was
// already removed is a no-op.
func (l *EventLoop) RemoveTimer(id TimerID) {
	l.RunInLoop(func() {
		l.timers.remove(id)
	})
}

// Run pins the calling goroutine to its OS thread and dispatches events until
// Stop is called.
func (l *EventLoop) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if !atomic.CompareAndSwapInt64(&l.tid, 0, int64(unix.Gettid())) {
		return fmt.Errorf("event loop %s is already running", l.name)
	}
	defer close(l.finished)
	defer l.shutdown()

	l.log.Debug("event loop started")
	events := make([]unix.EpollEvent, maxEvents)
	timeout := int(l.pollTimeout / time.Millisecond)

	for !l.stopped.Load() {
		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll wait failed on loop %s: %w", l.name, err)
		}
		for i := 0; i < n; i++ {
			l.dispatch(events[i])
		}
	}
	l.log.Debug("event loop stopped")
	return nil
}

func (l *EventLoop) dispatch(ev unix.EpollEvent) {
	ch, ok := l.channels[int(ev.Fd)]
	if !ok {
		return
	}

	if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 && ev.Events&unix.EPOLLIN == 0 {
		ch.handleClose()
		return
	}
	if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		ch.handleRead()
	}
	if ev.Events&unix.EPOLLOUT != 0 {
		// the read handler may have closed the channel
		if _, ok := l.channels[int(ev.Fd)]; ok {
			ch.handleWrite()
		}
	}
}

// shutdown closes every registered channel on the loop thread.
func (l *EventLoop) shutdown() {
	l.notifier.handleRead()
	for fd, ch := range l.channels {
		if ch == Channel(l.notifier) || ch == Channel(l.timers) {
			continue
		}
		ch.handleClose()
		delete(l.channels, fd)
	}
	l.timers.handleClose()
	l.notifier.handleClose()
	unix.Close(l.epfd)
}

// Stop asks the loop to exit. Safe to call from any goroutine.
func (l *EventLoop) Stop() {
	if l.stopped.Swap(true) {
		return
	}
	l.notifier.wake()
}

// Done is closed once Run has returned and every descriptor is closed.
func (l *EventLoop) Done() <-chan struct{} {
	return l.finished
}
