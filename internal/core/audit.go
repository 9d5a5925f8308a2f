package core

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

type AuditKind string

const (
	AuditCreateSession  AuditKind = "create_session"
	AuditDeleteSession  AuditKind = "delete_session"
	AuditJoin           AuditKind = "join"
	AuditLeave          AuditKind = "leave"
	AuditDisconnect     AuditKind = "disconnect"
	AuditCodeChange     AuditKind = "code_change"
	AuditLanguageChange AuditKind = "language_change"
	AuditCleanup        AuditKind = "cleanup"
)

// AuditEvent is one line of the session audit trail. Document contents are
// never written; only their size.
type AuditEvent struct {
	TsMS      int64          `json:"ts_ms"`
	Actor     string         `json:"actor"`
	SessionID string         `json:"session_id,omitempty"`
	Kind      AuditKind      `json:"kind"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// AuditLogger appends AuditEvents to a JSONL file. A nil *AuditLogger drops
// everything; NewAuditLogger returns one for an empty path.
type AuditLogger struct {
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
	err error
}

func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	return &AuditLogger{f: f, w: w, enc: json.NewEncoder(w)}, nil
}

func (a *AuditLogger) Log(event AuditEvent) {
	if a == nil {
		return
	}
	if event.TsMS == 0 {
		event.TsMS = time.Now().UnixMilli()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil || a.err != nil {
		return
	}
	if err := a.enc.Encode(event); err != nil {
		a.err = err
		return
	}
	a.err = a.w.Flush()
}

// Err returns the first write failure. Logging stops after it.
func (a *AuditLogger) Err() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	flushErr := a.w.Flush()
	err := a.f.Close()
	a.f = nil
	if flushErr != nil {
		return flushErr
	}
	return err
}
