package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// SessionStore is the in-memory registry of sessions keyed by id. Nothing is
// persisted: a restart loses every session.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	now   func() time.Time
	newID func() string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *SessionStore) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	for {
		if _, taken := s.sessions[id]; !taken {
			break
		}
		id = s.newID()
	}
	s.sessions[id] = &Session{
		ID:        id,
		Code:      DefaultCode,
		Language:  DefaultLanguage,
		Users:     []Participant{},
		CreatedAt: s.now(),
	}
	return id
}

// Get returns a copy of the session. It never extends the session's lifetime.
func (s *SessionStore) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess.clone(), nil
}

// Delete removes the session and reports whether it existed.
func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// UpdateCode returns false when the session is gone.
func (s *SessionStore) UpdateCode(id, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Code = code
	return true
}

// UpdateLanguage returns false when the session is gone.
func (s *SessionStore) UpdateLanguage(id string, lang Language) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Language = lang
	return true
}

func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) participantCount(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return 0, false
	}
	return len(sess.Users), true
}

func (s *SessionStore) addParticipant(id string, p Participant) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Users = append(sess.Users, p)
	return true
}

// removeParticipant drops every entry for connID and returns the remaining
// participant count.
func (s *SessionStore) removeParticipant(id, connID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return 0, false
	}
	sess.Users = lo.Reject(sess.Users, func(p Participant, _ int) bool {
		return p.ID == connID
	})
	return len(sess.Users), true
}
