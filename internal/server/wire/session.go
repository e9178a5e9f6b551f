package wire

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session holds per-connection state.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	questions    []string
	lastActiveAt time.Time
}

func newSession() *Session {
	now := time.Now()
	return &Session{ID: uuid.New().String(), CreatedAt: now, lastActiveAt: now}
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// AddQuestion records a question asked on this connection.
func (s *Session) AddQuestion(q string) {
	s.mu.Lock()
	s.questions = append(s.questions, q)
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// Questions returns the questions asked so far, oldest first.
func (s *Session) Questions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.questions...)
}

// LastActiveAt returns the time of the last message.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// Sessions tracks open connections.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// Open creates and registers a session.
func (m *Sessions) Open() *Session {
	s := newSession()
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns a session by ID, or nil.
func (m *Sessions) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Close unregisters a session.
func (m *Sessions) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of open sessions.
func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
