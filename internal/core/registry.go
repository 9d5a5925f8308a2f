package core

import (
	"strings"
	"sync"
)

const fallbackNamePrefixLen = 4

// ParticipantRegistry tracks which connection is joined to which session.
// The connection id is the source of truth for liveness; the session's
// participant list in the store is kept in step on every join and leave.
type ParticipantRegistry struct {
	store *SessionStore

	mu     sync.Mutex
	byConn map[string]Participant
}

func NewParticipantRegistry(store *SessionStore) *ParticipantRegistry {
	return &ParticipantRegistry{
		store:  store,
		byConn: make(map[string]Participant),
	}
}

// Join binds connID to the session. It fails with ErrSessionNotFound without
// touching any participant list when the session does not exist.
func (r *ParticipantRegistry) Join(sessionID, connID, username string) (Participant, error) {
	p := Participant{
		ID:        connID,
		Username:  DisplayName(connID, username),
		SessionID: sessionID,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.store.addParticipant(sessionID, p) {
		return Participant{}, ErrSessionNotFound
	}
	r.byConn[connID] = p
	return p, nil
}

// Leave unbinds connID. The bool is false when the connection was not joined
// to sessionID, which makes repeated calls harmless. remaining is the
// session's participant count after removal, or 0 if the session is gone.
func (r *ParticipantRegistry) Leave(sessionID, connID string) (p Participant, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok = r.byConn[connID]
	if !ok || p.SessionID != sessionID {
		return Participant{}, 0, false
	}
	delete(r.byConn, connID)
	remaining, _ = r.store.removeParticipant(sessionID, connID)
	return p, remaining, true
}

func (r *ParticipantRegistry) Lookup(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byConn[connID]
	return p, ok
}

func (r *ParticipantRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}

// DisplayName returns username, or a name derived from the connection id
// when username is blank.
func DisplayName(connID, username string) string {
	if name := strings.TrimSpace(username); name != "" {
		return name
	}
	prefix := connID
	if len(prefix) > fallbackNamePrefixLen {
		prefix = prefix[:fallbackNamePrefixLen]
	}
	return "User-" + prefix
}
