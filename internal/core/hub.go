package core

import (
	"log/slog"
	"sync"
	"time"
)

// Conn is the transport side of a participant connection.
type Conn interface {
	// ID is unique per live connection and assigned by the transport.
	ID() string
	// Send enqueues msg for delivery and must not block. The hub calls it
	// while holding its lock so that each connection observes messages in
	// processing order.
	Send(msg Envelope) error
}

type Config struct {
	// CleanupDelay is the grace period between a session becoming empty and
	// its deletion.
	CleanupDelay    time.Duration
	AuditPath       string
	RateLimitPerMin int
	RateWindow      time.Duration
	// Scheduler must run callbacks asynchronously.
	Scheduler Scheduler
	Metrics   *Metrics
}

// Hub owns the session store and participant registry and routes every
// inbound event. Each event is applied and fanned out under h.mu, so events
// are processed one at a time in arrival order; nothing orders events across
// connections beyond that and the last processed write wins.
type Hub struct {
	mu sync.Mutex

	cfg Config

	store    *SessionStore
	registry *ParticipantRegistry
	conns    map[string]*Connection

	cleanups   map[string]cleanupTask
	cleanupSeq uint64
	closed     bool

	audit   *AuditLogger
	limiter *RateLimiter
	metrics *Metrics
}

func NewHub(cfg Config) (*Hub, error) {
	if cfg.CleanupDelay <= 0 {
		cfg.CleanupDelay = time.Hour
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 1200
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = SystemScheduler()
	}

	audit, err := NewAuditLogger(cfg.AuditPath)
	if err != nil {
		return nil, err
	}
	store := NewSessionStore()
	return &Hub{
		cfg:      cfg,
		store:    store,
		registry: NewParticipantRegistry(store),
		conns:    make(map[string]*Connection),
		cleanups: make(map[string]cleanupTask),
		audit:    audit,
		limiter:  NewRateLimiter(cfg.RateLimitPerMin, cfg.RateWindow),
		metrics:  cfg.Metrics,
	}, nil
}

// Close stops pending cleanups and releases the audit log. Sessions are
// discarded with the hub.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for id, task := range h.cleanups {
		task.timer.Stop()
		delete(h.cleanups, id)
	}
	h.mu.Unlock()
	return h.audit.Close()
}

// CreateSession adds an empty session. It starts out with a cleanup pending,
// so a session nobody joins expires like one everybody left.
func (h *Hub) CreateSession(actor string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.store.Create()
	total := h.store.Count()
	h.metrics.sessionCreated(total)
	h.audit.Log(AuditEvent{Actor: actor, SessionID: id, Kind: AuditCreateSession})
	slog.Info("session created", "session_id", id, "sessions", total)
	h.scheduleCleanupLocked(id)
	return id
}

func (h *Hub) GetSession(id string) (Session, error) {
	return h.store.Get(id)
}

// DeleteSession removes the session right away. Connections still bound to
// it stay joined; their mutations become no-ops.
func (h *Hub) DeleteSession(actor, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if task, ok := h.cleanups[id]; ok {
		task.timer.Stop()
		delete(h.cleanups, id)
	}
	if !h.store.Delete(id) {
		return false
	}
	h.metrics.sessionDeleted("explicit", h.store.Count())
	h.audit.Log(AuditEvent{Actor: actor, SessionID: id, Kind: AuditDeleteSession})
	slog.Info("session deleted", "session_id", id)
	return true
}

func (h *Hub) SessionCount() int {
	return h.store.Count()
}

// Attach registers a freshly connected transport connection in the unbound
// state.
func (h *Hub) Attach(conn Conn) *Connection {
	c := &Connection{hub: h, conn: conn, id: conn.ID(), state: StateUnbound}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.state = StateDisconnected
		return c
	}
	h.conns[c.id] = c
	h.metrics.setConnections(len(h.conns))
	return c
}

func (h *Hub) join(c *Connection, sessionID, username string) (Participant, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || c.state == StateDisconnected {
		return Participant{}, ErrConnectionClosed
	}
	if c.state == StateJoined {
		return Participant{}, ErrAlreadyJoined
	}

	p, err := h.registry.Join(sessionID, c.id, username)
	if err != nil {
		h.deliver(c, newDataEnvelope(TypeError, sessionID, ErrorPayload{Message: "Session not found"}))
		slog.Info("join rejected", "conn_id", c.id, "session_id", sessionID, "err", err)
		return Participant{}, err
	}
	c.state = StateJoined
	c.sessionID = sessionID
	c.participant = p
	h.metrics.setParticipants(h.registry.Len())

	// The snapshot is read after the registry mutation so the joiner sees
	// itself in the participant list.
	sess, err := h.store.Get(sessionID)
	if err != nil {
		return p, nil
	}
	h.deliver(c, newDataEnvelope(TypeSessionState, sessionID, SessionStatePayload{
		Code:     sess.Code,
		Language: sess.Language,
		Users:    sess.Users,
	}))
	h.fanout(sess, c.id, newDataEnvelope(TypeUserJoined, sessionID, p))

	h.audit.Log(AuditEvent{
		Actor:     c.id,
		SessionID: sessionID,
		Kind:      AuditJoin,
		Meta:      map[string]any{"username": p.Username},
	})
	slog.Info("participant joined", "session_id", sessionID, "conn_id", c.id, "username", p.Username, "participants", len(sess.Users))
	return p, nil
}

func (h *Hub) changeCode(c *Connection, sessionID, code string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	target, err := h.boundSession(c, sessionID)
	if err != nil {
		return err
	}
	if !h.store.UpdateCode(target, code) {
		slog.Debug("code change for vanished session", "session_id", target, "conn_id", c.id)
		return ErrSessionNotFound
	}
	sess, err := h.store.Get(target)
	if err != nil {
		return err
	}
	h.fanout(sess, c.id, newDataEnvelope(TypeCodeUpdate, target, CodeUpdatePayload{Code: code}))
	h.audit.Log(AuditEvent{
		Actor:     c.id,
		SessionID: target,
		Kind:      AuditCodeChange,
		Meta:      map[string]any{"size": len(code)},
	})
	return nil
}

func (h *Hub) changeLanguage(c *Connection, sessionID string, lang Language) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	target, err := h.boundSession(c, sessionID)
	if err != nil {
		return err
	}
	if !h.store.UpdateLanguage(target, lang) {
		slog.Debug("language change for vanished session", "session_id", target, "conn_id", c.id)
		return ErrSessionNotFound
	}
	sess, err := h.store.Get(target)
	if err != nil {
		return err
	}
	// The sender gets the update too: it confirms the language it switched
	// its local tooling to.
	h.fanout(sess, "", newDataEnvelope(TypeLanguageUpdate, target, LanguageUpdatePayload{Language: lang}))
	h.audit.Log(AuditEvent{
		Actor:     c.id,
		SessionID: target,
		Kind:      AuditLanguageChange,
		Meta:      map[string]any{"language": lang},
	})
	slog.Info("language changed", "session_id", target, "conn_id", c.id, "language", lang)
	return nil
}

func (h *Hub) leave(c *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.state == StateDisconnected {
		return ErrConnectionClosed
	}
	if c.state != StateJoined {
		return ErrNotJoined
	}
	h.leaveLocked(c, AuditLeave)
	c.state = StateUnbound
	return nil
}

func (h *Hub) disconnect(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	prev := c.state
	c.state = StateDisconnected
	if cur, ok := h.conns[c.id]; ok && cur == c {
		delete(h.conns, c.id)
	}
	h.limiter.Forget(c.id)
	h.metrics.setConnections(len(h.conns))
	if prev == StateJoined {
		h.leaveLocked(c, AuditDisconnect)
	}
}

func (h *Hub) leaveLocked(c *Connection, reason AuditKind) {
	sessionID := c.sessionID
	c.sessionID = ""
	c.participant = Participant{}

	p, remaining, ok := h.registry.Leave(sessionID, c.id)
	if !ok {
		return
	}
	h.metrics.setParticipants(h.registry.Len())
	sess, err := h.store.Get(sessionID)
	if err != nil {
		slog.Debug("participant left vanished session", "session_id", sessionID, "conn_id", c.id)
		return
	}
	h.fanout(sess, c.id, newDataEnvelope(TypeUserLeft, sessionID, p))
	h.audit.Log(AuditEvent{
		Actor:     c.id,
		SessionID: sessionID,
		Kind:      reason,
		Meta:      map[string]any{"username": p.Username},
	})
	slog.Info("participant left", "session_id", sessionID, "conn_id", c.id, "reason", reason, "participants", remaining)
	if remaining == 0 {
		h.scheduleCleanupLocked(sessionID)
	}
}

func (h *Hub) boundSession(c *Connection, sessionID string) (string, error) {
	if h.closed || c.state == StateDisconnected {
		return "", ErrConnectionClosed
	}
	if c.state != StateJoined {
		return "", ErrNotJoined
	}
	if sessionID != "" && sessionID != c.sessionID {
		return "", ErrSessionMismatch
	}
	return c.sessionID, nil
}

// scheduleCleanupLocked arms deletion of an empty session. A newer empty
// period replaces the pending task; rejoining does not cancel it, the task
// re-checks the participant count when it fires.
func (h *Hub) scheduleCleanupLocked(sessionID string) {
	if h.closed {
		return
	}
	if prev, ok := h.cleanups[sessionID]; ok {
		prev.timer.Stop()
	}
	h.cleanupSeq++
	seq := h.cleanupSeq
	timer := h.cfg.Scheduler.AfterFunc(h.cfg.CleanupDelay, func() {
		h.runCleanup(sessionID, seq)
	})
	h.cleanups[sessionID] = cleanupTask{seq: seq, timer: timer}
	h.metrics.cleanup()
	slog.Info("session cleanup scheduled", "session_id", sessionID, "delay", h.cfg.CleanupDelay)
}

func (h *Hub) runCleanup(sessionID string, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	task, ok := h.cleanups[sessionID]
	if !ok || task.seq != seq {
		return
	}
	delete(h.cleanups, sessionID)

	n, exists := h.store.participantCount(sessionID)
	if !exists {
		return
	}
	if n > 0 {
		slog.Info("session cleanup skipped", "session_id", sessionID, "participants", n)
		return
	}
	h.store.Delete(sessionID)
	h.metrics.sessionDeleted("expired", h.store.Count())
	h.audit.Log(AuditEvent{Actor: "system", SessionID: sessionID, Kind: AuditCleanup})
	slog.Info("session cleaned up", "session_id", sessionID)
}

func (h *Hub) fanout(sess Session, exceptID string, msg Envelope) {
	for _, p := range sess.Users {
		if p.ID == exceptID {
			continue
		}
		if c, ok := h.conns[p.ID]; ok {
			h.deliver(c, msg)
		}
	}
}

func (h *Hub) deliver(c *Connection, msg Envelope) {
	err := c.conn.Send(msg)
	h.metrics.delivery(msg.Type, err)
	if err != nil {
		slog.Warn("deliver failed", "conn_id", c.id, "type", msg.Type, "err", err)
	}
}
