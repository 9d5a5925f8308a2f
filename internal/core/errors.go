package core

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotJoined        = errors.New("connection has not joined a session")
	ErrAlreadyJoined    = errors.New("connection already joined a session")
	ErrSessionMismatch  = errors.New("event targets a session the connection is not bound to")
	ErrConnectionClosed = errors.New("connection closed")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrRateLimited      = errors.New("rate limit exceeded")
)
