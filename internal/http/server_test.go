package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codecollab/internal/client"
	"codecollab/internal/core"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestServer(t *testing.T, mod func(*Server)) (*httptest.Server, *core.Hub) {
	t.Helper()
	reg := prometheus.NewRegistry()
	hub, err := core.NewHub(core.Config{Metrics: core.NewMetrics(reg)})
	require.NoError(t, err)
	api := &Server{Hub: hub, Gatherer: reg}
	if mod != nil {
		mod(api)
	}
	srv := httptest.NewServer(api.Router())
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Close()
	})
	return srv, hub
}

func createSession(t *testing.T, baseURL string) string {
	t.Helper()
	resp, err := http.Post(baseURL+"/api/sessions", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.SessionID)
	return body.SessionID
}

func dial(t *testing.T, baseURL string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, baseURL+"/ws")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *client.Client, msgType string) core.Envelope {
	t.Helper()
	select {
	case msg, ok := <-c.Events():
		require.True(t, ok, "connection closed while waiting for %s", msgType)
		require.Equal(t, msgType, msg.Type)
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", msgType)
		return core.Envelope{}
	}
}

func decode[T any](t *testing.T, msg core.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v
}

func TestSessionRoutes(t *testing.T) {
	req := require.New(t)
	srv, hub := newTestServer(t, nil)

	// Given a fresh session
	id := createSession(t, srv.URL)
	req.Equal(1, hub.SessionCount())

	// When it is fetched
	resp, err := http.Get(srv.URL + "/api/sessions/" + id)
	req.NoError(err)
	var sess core.Session
	req.NoError(json.NewDecoder(resp.Body).Decode(&sess))
	resp.Body.Close()

	// Then it carries the default document
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(id, sess.ID)
	req.Equal(core.DefaultCode, sess.Code)
	req.Equal(core.DefaultLanguage, sess.Language)
	req.Empty(sess.Users)

	// And deleting it twice is fine
	for i := 0; i < 2; i++ {
		r, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+id, nil)
		req.NoError(err)
		resp, err := http.DefaultClient.Do(r)
		req.NoError(err)
		resp.Body.Close()
		req.Equal(http.StatusNoContent, resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/sessions/" + id)
	req.NoError(err)
	var body map[string]string
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)
	req.Equal("Session not found", body["error"])
}

func TestHealthAndMetrics(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t, nil)
	createSession(t, srv.URL)

	resp, err := http.Get(srv.URL + "/health")
	req.NoError(err)
	var body map[string]any
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	req.Equal("ok", body["status"])
	req.Equal(float64(1), body["sessions"])

	resp, err = http.Get(srv.URL + "/metrics")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	req.Contains(buf.String(), "codecollab_sessions_created_total 1")
}

func TestCORS(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t, func(s *Server) {
		s.AllowedOrigins = []string{"http://localhost:5173"}
	})

	preflight := func(origin string) *http.Response {
		r, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/sessions", nil)
		req.NoError(err)
		r.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(r)
		req.NoError(err)
		resp.Body.Close()
		return resp
	}

	resp := preflight("http://localhost:5173")
	req.Equal(http.StatusNoContent, resp.StatusCode)
	req.Equal("http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = preflight("http://evil.example")
	req.Empty(resp.Header.Get("Access-Control-Allow-Origin"))

	// WebSocket upgrades from foreign origins are refused.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://evil.example"}})
	req.Error(err)
	req.NotNil(resp)
	req.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketCollaboration(t *testing.T) {
	req := require.New(t)
	srv, hub := newTestServer(t, nil)
	id := createSession(t, srv.URL)

	// Given two editors in the same session
	alice := dial(t, srv.URL)
	req.NoError(alice.Join(id, "alice"))
	state := decode[core.SessionStatePayload](t, next(t, alice, core.TypeSessionState))
	req.Equal(core.DefaultCode, state.Code)
	req.Len(state.Users, 1)

	bob := dial(t, srv.URL)
	req.NoError(bob.Join(id, "bob"))
	state = decode[core.SessionStatePayload](t, next(t, bob, core.TypeSessionState))
	req.Len(state.Users, 2)
	joined := decode[core.Participant](t, next(t, alice, core.TypeUserJoined))
	req.Equal("bob", joined.Username)

	// When alice edits, bob receives the document
	req.NoError(alice.ChangeCode(id, "print('hi')"))
	upd := decode[core.CodeUpdatePayload](t, next(t, bob, core.TypeCodeUpdate))
	req.Equal("print('hi')", upd.Code)

	// And a language switch reaches both editors
	req.NoError(bob.ChangeLanguage(id, core.LanguagePython))
	for _, c := range []*client.Client{alice, bob} {
		lu := decode[core.LanguageUpdatePayload](t, next(t, c, core.TypeLanguageUpdate))
		req.Equal(core.LanguagePython, lu.Language)
	}

	// Then bob dropping out is announced and the session survives
	req.NoError(bob.Close())
	left := decode[core.Participant](t, next(t, alice, core.TypeUserLeft))
	req.Equal("bob", left.Username)

	sess, err := hub.GetSession(id)
	req.NoError(err)
	req.Equal("print('hi')", sess.Code)
	req.Equal(core.LanguagePython, sess.Language)
	req.Len(sess.Users, 1)
}

func TestWebSocketJoinUnknownSession(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t, nil)

	c := dial(t, srv.URL)
	req.NoError(c.Join("missing", "alice"))
	msg := next(t, c, core.TypeError)
	req.Equal("Session not found", decode[core.ErrorPayload](t, msg).Message)
}

func TestWebSocketSkipsMalformedFrames(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t, nil)
	id := createSession(t, srv.URL)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.NoError(err)
	defer conn.Close()

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	req.NoError(conn.WriteJSON(map[string]any{"type": core.TypeCodeChange, "data": map[string]any{"code": "x"}}))
	req.NoError(conn.WriteJSON(map[string]any{"type": core.TypeJoinSession, "session_id": id, "data": map[string]any{"username": "carol"}}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg core.Envelope
	req.NoError(conn.ReadJSON(&msg))
	req.Equal(core.TypeSessionState, msg.Type)
}

func TestStaticFallback(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	req.NoError(os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>editor</html>"), 0o644))
	req.NoError(os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	srv, _ := newTestServer(t, func(s *Server) { s.StaticDir = dir })

	get := func(path string) string {
		resp, err := http.Get(srv.URL + path)
		req.NoError(err)
		defer resp.Body.Close()
		req.Equal(http.StatusOK, resp.StatusCode)
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return buf.String()
	}
	req.Equal("console.log(1)", get("/app.js"))
	req.Contains(get("/session/abc"), "editor")
}

func TestWebSocketEventsAreTraced(t *testing.T) {
	req := require.New(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	srv, _ := newTestServer(t, func(s *Server) { s.TracerProvider = tp })
	id := createSession(t, srv.URL)

	// Given a joined editor
	c := dial(t, srv.URL)
	req.NoError(c.Join(id, "alice"))
	next(t, c, core.TypeSessionState)

	// When it sends a change and then joins a missing session
	req.NoError(c.ChangeCode(id, "x"))
	req.NoError(c.Leave())
	req.NoError(c.Join("missing", "alice"))
	next(t, c, core.TypeError)

	// Then every event produced one span, failures marked as errors
	var ended []sdktrace.ReadOnlySpan
	req.Eventually(func() bool {
		ended = rec.Ended()
		return len(ended) == 4
	}, 5*time.Second, 10*time.Millisecond)
	for _, sp := range ended {
		req.Equal("ws.event", sp.Name())
	}
	req.Equal(codes.Ok, ended[0].Status().Code)
	req.Equal(codes.Error, ended[3].Status().Code)
}
