package rag

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/coursemate/internal/domain"
)

// SessionStore manages conversation sessions.
type SessionStore interface {
	// GetOrCreate returns the session with the given id, creating it when it
	// does not exist. An empty id creates a session with a fresh id.
	GetOrCreate(id string) *domain.Session

	// Get returns a snapshot of a session by ID, or nil if not found.
	Get(id string) *domain.Session

	// Append adds a message to a session.
	Append(sessionID string, msg domain.Message)

	// History returns the messages of a session in order.
	History(sessionID string) []domain.Message

	// Delete removes a session. Returns true if it existed.
	Delete(id string) bool

	// List returns all session IDs.
	List() []string
}

// MemorySessionStore is an in-memory SessionStore implementation.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *MemorySessionStore) GetOrCreate(id string) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	} else if sess, ok := s.sessions[id]; ok {
		return snapshot(sess)
	}

	now := time.Now()
	sess := &domain.Session{ID: id, CreatedAt: now, UpdatedAt: now}
	s.sessions[id] = sess
	return snapshot(sess)
}

func (s *MemorySessionStore) Get(id string) *domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return snapshot(sess)
}

// snapshot copies sess so callers can read it after the lock is released.
func snapshot(sess *domain.Session) *domain.Session {
	cp := *sess
	cp.Messages = slices.Clone(sess.Messages)
	return &cp
}

func (s *MemorySessionStore) Append(sessionID string, msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		sess.Messages = append(sess.Messages, msg)
		sess.UpdatedAt = time.Now()
	}
}

func (s *MemorySessionStore) History(sessionID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.Messages) == 0 {
		return nil
	}
	return append([]domain.Message(nil), sess.Messages...)
}

func (s *MemorySessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

func (s *MemorySessionStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FormatHistory renders the last maxExchanges user/assistant exchanges as
// "User: ..." and "Assistant: ..." lines. It returns "" when there is
// nothing to render.
func FormatHistory(msgs []domain.Message, maxExchanges int) string {
	if maxExchanges <= 0 || len(msgs) == 0 {
		return ""
	}
	if keep := maxExchanges * 2; len(msgs) > keep {
		msgs = msgs[len(msgs)-keep:]
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			lines = append(lines, "User: "+m.Content)
		case domain.RoleAssistant:
			lines = append(lines, "Assistant: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}
