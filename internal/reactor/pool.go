package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

type poolOptions struct {
	pollTimeout time.Duration
}

type PoolOption func(*poolOptions)

func WithPollTimeout(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		o.pollTimeout = d
	}
}

// Pool runs one acceptor-only main loop and a fixed set of worker loops.
// Accepted connections are handed to workers round robin and live on that
// worker for their whole lifetime.
type Pool struct {
	main     *EventLoop
	workers  []*EventLoop
	next     uint64
	acceptor *Acceptor
	handler  ConnHandler

	stopOnce sync.Once
	stop     chan struct{}
}

func NewPool(acceptor *Acceptor, workers int, handler ConnHandler, opts ...PoolOption) (*Pool, error) {
	if workers < 1 {
		return nil, errors.New("reactor pool needs at least one worker")
	}
	o := poolOptions{pollTimeout: DefaultPollTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	main, err := NewEventLoop("main", o.pollTimeout)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		main:     main,
		acceptor: acceptor,
		handler:  handler,
		stop:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		w, err := NewEventLoop(fmt.Sprintf("worker-%d", i), o.pollTimeout)
		if err != nil {
			return nil, err
		}
		p.workers = append(p.workers, w)
	}
	acceptor.dispatcher = p
	return p, nil
}

func (p *Pool) Main() *EventLoop {
	return p.main
}

func (p *Pool) Workers() []*EventLoop {
	return p.workers
}

// NextLoop picks the worker for the next connection.
func (p *Pool) NextLoop() *EventLoop {
	k := atomic.AddUint64(&p.next, 1) - 1
	return p.workers[k%uint64(len(p.workers))]
}

// Dispatch hands an accepted descriptor to the next worker, which builds the
// connection and its protocol on its own thread.
func (p *Pool) Dispatch(fd int, peer unix.Sockaddr) {
	loop := p.NextLoop()
	loop.RunInLoop(func() {
		c := newTCPConn(loop, fd, peer)
		c.proto = p.handler.NewProtocol(c)
		if err := loop.Register(c); err != nil {
			c.log.WithError(err).Error("failed to register connection")
			unix.Close(fd)
			return
		}
		connectionsActive.WithLabelValues(loop.name).Inc()
		connectionsTotal.WithLabelValues(loop.name).Inc()
		c.log.Debug("connection accepted")
	})
}

// Run starts every loop and blocks until ctx is cancelled, Stop is called or a
// loop fails.
func (p *Pool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	p.main.RunInLoop(func() {
		if err := p.main.Register(p.acceptor); err != nil {
			p.main.log.WithError(err).Error("failed to register acceptor")
			p.Stop()
		}
	})

	for _, w := range append([]*EventLoop{p.main}, p.workers...) {
		w := w
		group.Go(func() error {
			defer p.Stop()
			return w.Run()
		})
	}
	group.Go(func() error {
		select {
		case <-ctx.Done():
		case <-p.stop:
		}
		p.Stop()
		return nil
	})

	log.WithField("workers", len(p.workers)).
		Infof("reactor pool listening on %s", p.acceptor.Addr())
	return group.Wait()
}

// Stop stops every loop. Connections are closed on their own threads.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.main.Stop()
		for _, w := range p.workers {
			w.Stop()
		}
	})
}
