package core

import "time"

type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
)

const (
	DefaultCode     = "// Write your code here\n"
	DefaultLanguage = LanguageJavaScript
)

func ParseLanguage(v string) (Language, bool) {
	switch Language(v) {
	case LanguageJavaScript, LanguagePython:
		return Language(v), true
	default:
		return "", false
	}
}

// Participant is a live connection bound to a session.
type Participant struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	SessionID string `json:"-"`
}

type Session struct {
	ID        string        `json:"id"`
	Code      string        `json:"code"`
	Language  Language      `json:"language"`
	Users     []Participant `json:"users"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (s *Session) clone() Session {
	out := *s
	out.Users = append([]Participant{}, s.Users...)
	return out
}

// ConnState is the lifecycle state of an attached connection.
type ConnState string

const (
	StateUnbound      ConnState = "unbound"
	StateJoined       ConnState = "joined"
	StateDisconnected ConnState = "disconnected"
)
