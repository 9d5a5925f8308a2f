package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"codecollab/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "codecollab/ws"

// ClientHandler upgrades editor connections and feeds their frames to the
// hub. Each connection gets a fresh uuid as its connection id.
type ClientHandler struct {
	Hub        *core.Hub
	Upgrader   websocket.Upgrader
	SendBuffer int
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

func (h *ClientHandler) tracer() trace.Tracer {
	if h.TracerProvider != nil {
		return h.TracerProvider.Tracer(tracerName)
	}
	return otel.Tracer(tracerName)
}

func (h *ClientHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	wc := NewConn(uuid.NewString(), conn, h.SendBuffer)
	go wc.writeLoop()
	c := h.Hub.Attach(wc)
	slog.Info("ws connected", "conn_id", wc.ID(), "remote", r.RemoteAddr)
	defer func() {
		c.Disconnect()
		wc.Close()
		slog.Info("ws disconnected", "conn_id", wc.ID(), "remote", r.RemoteAddr)
	}()

	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("ws read failed", "conn_id", wc.ID(), "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg core.Envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("ws dropped malformed frame", "conn_id", wc.ID(), "err", err)
			continue
		}
		h.dispatch(r.Context(), c, msg)
	}
}

func (h *ClientHandler) dispatch(ctx context.Context, c *core.Connection, msg core.Envelope) {
	_, span := h.tracer().Start(ctx, "ws.event",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("codecollab.event_type", msg.Type),
			attribute.String("codecollab.conn_id", c.ID()),
			attribute.String("codecollab.session_id", msg.SessionID),
		),
	)
	defer span.End()

	err := c.Handle(msg)
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, core.ErrSessionNotFound) {
		// Join rejections were already sent to the peer; stale mutations are
		// absorbed.
		slog.Debug("ws event for unknown session", "conn_id", c.ID(), "type", msg.Type, "session_id", msg.SessionID)
		return
	}
	slog.Warn("ws event dropped", "conn_id", c.ID(), "type", msg.Type, "err", err)
}
