package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one run: from the start request to completion or closure. It
// owns the run's connection and per-run counters, so several sessions (for
// example in tests) never interfere with each other.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	received int
	dropped  int
}

// Stats are the per-run message counters.
type Stats struct {
	Received int
	Dropped  int
}

// NewSession returns an idle session with a fresh ID.
func NewSession() *Session {
	return &Session{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		state:     StateIdle,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns the number of frames received and dropped so far.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Received: s.received, Dropped: s.dropped}
}

// Reset moves a finished session back to StateIdle.
func (s *Session) Reset() error {
	_, err := s.fire(TriggerReset)
	return err
}

func (s *Session) fire(t Trigger) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := Transition(s.state, t)
	if err != nil {
		return s.state, err
	}
	s.state = next
	return next, nil
}

// Close closes the run's live connection, if any. A Run blocked on that
// connection returns and reports Closed.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) detach() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	return conn
}

func (s *Session) countFrame(dropped bool) {
	s.mu.Lock()
	s.received++
	if dropped {
		s.dropped++
	}
	s.mu.Unlock()
}
