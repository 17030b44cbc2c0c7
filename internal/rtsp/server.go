package rtsp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/rtspd/internal/camera"
	"github.com/bilbercode/rtspd/internal/reactor"
	"github.com/bilbercode/rtspd/internal/rtp"
)

const minReapInterval = time.Second

type Config struct {
	Workers     int
	PollTimeout time.Duration

	// SessionTimeout is how long a session that is not playing may stay idle
	// before it is removed. Zero disables the reaper.
	SessionTimeout time.Duration
	PortBase       int
	RTP            rtp.Config
}

func DefaultConfig() Config {
	return Config{
		Workers:        4,
		PollTimeout:    reactor.DefaultPollTimeout,
		SessionTimeout: time.Minute,
		PortBase:       DefaultPortBase,
		RTP:            rtp.DefaultConfig(),
	}
}

type ServerOption func(*Server)

// WithStore replaces the in-memory session table.
func WithStore(store Store) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// Server accepts RTSP connections on a reactor pool. Each connection gets its
// own engine on the worker that owns it, and every engine shares one session
// store.
type Server struct {
	cfg      Config
	store    Store
	ports    *PortAllocator
	cameras  camera.Service
	acceptor *reactor.Acceptor
	pool     *reactor.Pool
}

func NewServer(cfg Config, cameras camera.Service, opts ...ServerOption) *Server {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = reactor.DefaultPollTimeout
	}
	s := &Server{
		cfg:     cfg,
		store:   NewMemoryStore(),
		ports:   NewPortAllocator(cfg.PortBase),
		cameras: cameras,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the RTSP port and builds the reactor pool. Failing to create
// the listening socket or any loop is fatal for the server.
func (s *Server) Listen(addr string) error {
	acceptor, err := reactor.Listen(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on address %s: %w", addr, err)
	}
	pool, err := reactor.NewPool(acceptor, s.cfg.Workers, s, reactor.WithPollTimeout(s.cfg.PollTimeout))
	if err != nil {
		return fmt.Errorf("failed to create reactor pool: %w", err)
	}
	s.acceptor = acceptor
	s.pool = pool
	return nil
}

func (s *Server) Addr() *net.TCPAddr {
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

// Serve runs the pool until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("rtsp server is not listening")
	}
	if s.cfg.SessionTimeout > 0 {
		interval := s.cfg.SessionTimeout / 2
		if interval < minReapInterval {
			interval = minReapInterval
		}
		s.pool.Main().AddPeriodicTimer(interval, interval, func() {
			s.reap(time.Now())
		})
	}
	return s.pool.Run(ctx)
}

func (s *Server) Start(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) Store() Store {
	return s.store
}

// NewProtocol builds the engine of an accepted connection.
func (s *Server) NewProtocol(c *reactor.TCPConn) reactor.Protocol {
	return newEngine(s, c)
}

func (s *Server) rtpConfig() rtp.Config {
	return s.cfg.RTP
}

// reap removes idle sessions. Their connections release the sockets on the
// next request naming them or when they close.
func (s *Server) reap(now time.Time) {
	for _, id := range s.store.Expire(now.Add(-s.cfg.SessionTimeout)) {
		sessionsExpired.Inc()
		log.WithField("session", id).Info("session expired")
	}
}
