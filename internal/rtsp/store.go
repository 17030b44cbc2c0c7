package rtsp

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type Mode int

const (
	ModeTCP Mode = iota
	ModeUDP
)

func (m Mode) String() string {
	if m == ModeUDP {
		return "udp"
	}
	return "tcp"
}

// Track is the negotiated transport of one media track.
type Track struct {
	Configured bool   `json:"configured"`
	ClientRTP  int    `json:"client_rtp,omitempty"`
	ClientRTCP int    `json:"client_rtcp,omitempty"`
	ServerRTP  int    `json:"server_rtp,omitempty"`
	ServerRTCP int    `json:"server_rtcp,omitempty"`
	Channels   [2]int `json:"channels"`
}

// Session is one row of the session table. Rows are copied in and out of a
// Store, so a Session value never aliases table state.
type Session struct {
	ID             string    `json:"id"`
	Conn           string    `json:"conn"`
	ClientIP       string    `json:"client_ip"`
	Camera         string    `json:"camera"`
	Mode           Mode      `json:"mode"`
	Tracks         [2]Track  `json:"tracks"`
	ServerPortBase int       `json:"server_port_base,omitempty"`
	Playing        bool      `json:"playing"`
	Created        time.Time `json:"created"`
	LastActivity   time.Time `json:"last_activity"`
}

// Store is the session table shared by every connection.
type Store interface {
	// Create assigns a fresh id to s and inserts it.
	Create(s Session) (Session, error)
	Get(id string) (Session, error)
	// Update applies fn to the row under the table lock. fn must not block.
	Update(id string, fn func(s *Session)) (Session, error)
	Delete(id string) bool
	List() []Session
	// Expire removes idle rows that are not playing and returns their ids.
	Expire(before time.Time) []string
	Len() int
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	counter  uint64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.counter++
	s.ID = fmt.Sprintf("%x_%d", now.Unix(), m.counter)
	if _, ok := m.sessions[s.ID]; ok {
		return Session{}, fmt.Errorf("session id %s already in use", s.ID)
	}
	s.Created = now
	s.LastActivity = now
	m.sessions[s.ID] = s
	sessionsActive.Set(float64(len(m.sessions)))
	return s, nil
}

func (m *MemoryStore) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *MemoryStore) Update(id string, fn func(s *Session)) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	fn(&s)
	s.ID = id
	s.LastActivity = m.now()
	m.sessions[id] = s
	return s, nil
}

func (m *MemoryStore) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	sessionsActive.Set(float64(len(m.sessions)))
	return ok
}

func (m *MemoryStore) List() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) Expire(before time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for id, s := range m.sessions {
		if !s.Playing && s.LastActivity.Before(before) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	sessionsActive.Set(float64(len(m.sessions)))
	return expired
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
