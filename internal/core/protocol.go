package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound event types.
const (
	TypeJoinSession    = "join-session"
	TypeLeaveSession   = "leave-session"
	TypeCodeChange     = "code-change"
	TypeLanguageChange = "language-change"
)

// Outbound event types.
const (
	TypeSessionState   = "session-state"
	TypeCodeUpdate     = "code-update"
	TypeLanguageUpdate = "language-update"
	TypeUserJoined     = "user-joined"
	TypeUserLeft       = "user-left"
	TypeError          = "error"
)

var validate = validator.New()

// Envelope is the common WS message format.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	TsMS      int64           `json:"ts_ms,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(msgType, sessionID string) Envelope {
	return Envelope{
		Type:      msgType,
		SessionID: sessionID,
		TsMS:      time.Now().UnixMilli(),
	}
}

func newDataEnvelope(msgType, sessionID string, v any) Envelope {
	env := NewEnvelope(msgType, sessionID)
	env.Data, _ = json.Marshal(v)
	return env
}

// JoinRequest is not validated beyond decoding: an unusable session id is
// answered as an unknown session and any username is accepted.
type JoinRequest struct {
	SessionID string `json:"-"`
	Username  string `json:"username"`
}

// CodeChange carries a full document replacement. Code is a pointer so an
// empty document is still a valid change.
type CodeChange struct {
	SessionID string  `json:"-"`
	Code      *string `json:"code" validate:"required"`
}

type LanguageChange struct {
	SessionID string `json:"-"`
	Language  string `json:"language" validate:"required,oneof=javascript python"`
}

type SessionStatePayload struct {
	Code     string        `json:"code"`
	Language Language      `json:"language"`
	Users    []Participant `json:"users"`
}

type CodeUpdatePayload struct {
	Code string `json:"code"`
}

type LanguageUpdatePayload struct {
	Language Language `json:"language"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func DecodeJoin(env Envelope) (JoinRequest, error) {
	var req JoinRequest
	if err := decodeData(env, &req); err != nil {
		return JoinRequest{}, err
	}
	req.SessionID = strings.TrimSpace(env.SessionID)
	return req, nil
}

func DecodeCodeChange(env Envelope) (CodeChange, error) {
	var req CodeChange
	if err := decodeData(env, &req); err != nil {
		return CodeChange{}, err
	}
	if err := validate.Struct(req); err != nil {
		return CodeChange{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	req.SessionID = env.SessionID
	return req, nil
}

func DecodeLanguageChange(env Envelope) (LanguageChange, error) {
	var req LanguageChange
	if err := decodeData(env, &req); err != nil {
		return LanguageChange{}, err
	}
	if err := validate.Struct(req); err != nil {
		return LanguageChange{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	req.SessionID = env.SessionID
	return req, nil
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
