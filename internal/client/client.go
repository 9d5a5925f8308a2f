package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"codecollab/internal/core"
	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("client closed")

// Client is a single editor connection. Events delivers every server message
// in arrival order and is closed when the connection ends.
type Client struct {
	conn   *websocket.Conn
	events chan core.Envelope
	send   chan core.Envelope
	done   chan struct{}
	once   sync.Once
	err    error
}

// Dial connects to a /ws endpoint. http(s) URLs are rewritten to ws(s).
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	wsURL, err := NormalizeWSURL(rawURL)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:   conn,
		events: make(chan core.Envelope, 256),
		send:   make(chan core.Envelope, 256),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *Client) Events() <-chan core.Envelope { return c.events }

// Err reports why the connection ended once Events is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

func (c *Client) Join(sessionID, username string) error {
	return c.emit(core.TypeJoinSession, sessionID, map[string]any{"username": username})
}

func (c *Client) ChangeCode(sessionID, code string) error {
	return c.emit(core.TypeCodeChange, sessionID, map[string]any{"code": code})
}

func (c *Client) ChangeLanguage(sessionID string, lang core.Language) error {
	return c.emit(core.TypeLanguageChange, sessionID, map[string]any{"language": lang})
}

func (c *Client) Leave() error {
	return c.emit(core.TypeLeaveSession, "", nil)
}

func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) emit(msgType, sessionID string, data any) error {
	env := core.NewEnvelope(msgType, sessionID)
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		env.Data = raw
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- env:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (c *Client) shutdown(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		var msg core.Envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.shutdown(err)
			return
		}
		select {
		case c.events <- msg:
		case <-c.done:
			return
		}
	}
}

// Watch joins sessionID and hands every message to fn, reconnecting with
// backoff until ctx is done or the session disappears.
func Watch(ctx context.Context, rawURL, sessionID, username string, fn func(core.Envelope)) error {
	backoff := time.Second
	for {
		connected, err := watchOnce(ctx, rawURL, sessionID, username, fn)
		if errors.Is(err, core.ErrSessionNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("watch disconnected", "url", rawURL, "session_id", sessionID, "err", err)
		}
		if connected {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}

func watchOnce(ctx context.Context, rawURL, sessionID, username string, fn func(core.Envelope)) (bool, error) {
	c, err := Dial(ctx, rawURL)
	if err != nil {
		return false, err
	}
	defer c.Close()
	if err := c.Join(sessionID, username); err != nil {
		return true, err
	}
	slog.Info("watch joined", "url", rawURL, "session_id", sessionID)
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-c.Events():
			if !ok {
				return true, c.Err()
			}
			if msg.Type == core.TypeError {
				var p core.ErrorPayload
				_ = json.Unmarshal(msg.Data, &p)
				if p.Message == "Session not found" {
					return true, core.ErrSessionNotFound
				}
			}
			fn(msg)
		}
	}
}

func NormalizeWSURL(base string) (string, error) {
	if strings.HasPrefix(base, "ws://") || strings.HasPrefix(base, "wss://") {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.New("unsupported scheme: " + u.Scheme)
	}
	return u.String(), nil
}
