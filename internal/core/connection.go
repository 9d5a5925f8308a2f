package core

import (
	"errors"
	"fmt"
)

// Connection is the lifecycle handle for one attached transport connection:
// unbound -> joined -> disconnected. An explicit leave returns it to unbound.
type Connection struct {
	hub  *Hub
	conn Conn
	id   string

	// guarded by hub.mu
	state       ConnState
	sessionID   string
	participant Participant
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) State() ConnState {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.state
}

// SessionID returns the bound session, or "" when not joined.
func (c *Connection) SessionID() string {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.sessionID
}

// Handle decodes one inbound envelope and applies it. Every error it returns
// is local to this connection; callers log it and keep reading.
func (c *Connection) Handle(env Envelope) error {
	err := c.handle(env)
	label := env.Type
	if errors.Is(err, ErrUnknownEvent) {
		label = "unknown"
	}
	c.hub.metrics.event(label, err)
	return err
}

func (c *Connection) handle(env Envelope) error {
	if !c.hub.limiter.Allow(c.id) {
		return ErrRateLimited
	}
	switch env.Type {
	case TypeJoinSession:
		req, err := DecodeJoin(env)
		if err != nil {
			return err
		}
		_, err = c.Join(req.SessionID, req.Username)
		return err
	case TypeCodeChange:
		req, err := DecodeCodeChange(env)
		if err != nil {
			return err
		}
		return c.ChangeCode(req.SessionID, *req.Code)
	case TypeLanguageChange:
		req, err := DecodeLanguageChange(env)
		if err != nil {
			return err
		}
		lang, ok := ParseLanguage(req.Language)
		if !ok {
			return fmt.Errorf("%w: unsupported language %q", ErrMalformedEvent, req.Language)
		}
		return c.ChangeLanguage(req.SessionID, lang)
	case TypeLeaveSession:
		return c.Leave()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// Join binds the connection to sessionID. On ErrSessionNotFound the
// connection is sent an error message and stays unbound.
func (c *Connection) Join(sessionID, username string) (Participant, error) {
	return c.hub.join(c, sessionID, username)
}

// ChangeCode replaces the bound session's document. sessionID may be empty
// to mean the bound session.
func (c *Connection) ChangeCode(sessionID, code string) error {
	return c.hub.changeCode(c, sessionID, code)
}

func (c *Connection) ChangeLanguage(sessionID string, lang Language) error {
	return c.hub.changeLanguage(c, sessionID, lang)
}

func (c *Connection) Leave() error {
	return c.hub.leave(c)
}

// Disconnect is called by the transport when the connection goes away. It
// is safe to call more than once; only the first call has an effect.
func (c *Connection) Disconnect() {
	c.hub.disconnect(c)
}
