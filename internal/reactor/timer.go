package reactor

import (
	"container/heap"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// TimerID identifies a timer within the loop that created it.
type TimerID uint64

type timer struct {
	id        TimerID
	deadline  time.Time
	interval  time.Duration
	fn        func()
	index     int
	cancelled bool
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timerQueue keeps the loop's timers in a min-heap and arms a single timerfd
// for the earliest deadline. It is only touched from the loop thread.
type timerQueue struct {
	fd    int
	heap  timerHeap
	byID  map[TimerID]*timer
	armed time.Time
	now   func() time.Time
}

func newTimerQueue() (*timerQueue, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create timerfd: %w", err)
	}
	return &timerQueue{
		fd:   fd,
		byID: make(map[TimerID]*timer),
		now:  time.Now,
	}, nil
}

func (q *timerQueue) Fd() int {
	return q.fd
}

func (q *timerQueue) events() uint32 {
	return unix.EPOLLIN
}

func (q *timerQueue) add(t *timer) {
	q.byID[t.id] = t
	heap.Push(&q.heap, t)
	q.rearm()
}

func (q *timerQueue) remove(id TimerID) {
	t, ok := q.byID[id]
	if !ok {
		return
	}
	t.cancelled = true
	delete(q.byID, id)
	if t.index >= 0 {
		heap.Remove(&q.heap, t.index)
		q.rearm()
	}
}

func (q *timerQueue) len() int {
	return len(q.byID)
}

func (q *timerQueue) handleRead() {
	var b [8]byte
	_, _ = unix.Read(q.fd, b[:])
	q.armed = time.Time{}

	now := q.now()
	var expired []*timer
	for len(q.heap) > 0 && !q.heap[0].deadline.After(now) {
		expired = append(expired, heap.Pop(&q.heap).(*timer))
	}

	for _, t := range expired {
		if t.cancelled {
			continue
		}
		t.fn()
		if t.cancelled {
			continue
		}
		if t.interval <= 0 {
			delete(q.byID, t.id)
			continue
		}
		t.deadline = nextDeadline(t.deadline, t.interval, q.now())
		heap.Push(&q.heap, t)
	}

	q.rearm()
}

// nextDeadline advances a periodic deadline by one interval from the previous
// scheduled deadline. Ticks missed while the loop was busy are skipped rather
// than replayed back to back.
func nextDeadline(prev time.Time, interval time.Duration, now time.Time) time.Time {
	next := prev.Add(interval)
	if next.After(now) {
		return next
	}
	missed := now.Sub(prev) / interval
	return prev.Add((missed + 1) * interval)
}

func (q *timerQueue) rearm() {
	if len(q.heap) == 0 {
		if !q.armed.IsZero() {
			q.armed = time.Time{}
			_ = unix.TimerfdSettime(q.fd, 0, &unix.ItimerSpec{}, nil)
		}
		return
	}

	deadline := q.heap[0].deadline
	if deadline.Equal(q.armed) {
		return
	}
	q.armed = deadline

	delay := deadline.Sub(q.now())
	if delay < time.Microsecond {
		// a zero value would disarm the timerfd
		delay = time.Microsecond
	}
	_ = unix.TimerfdSettime(q.fd, 0, &unix.ItimerSpec{
		Value: unix.NsecToTimespec(delay.Nanoseconds()),
	}, nil)
}

func (q *timerQueue) handleWrite() {}

func (q *timerQueue) handleClose() {
	unix.Close(q.fd)
}
