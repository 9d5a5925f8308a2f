package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"codecollab/internal/core"
	"codecollab/internal/security"
	wshandler "codecollab/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	Hub *core.Hub
	// AllowedOrigins gates CORS and WebSocket upgrades. Empty allows all.
	AllowedOrigins []string
	// Gatherer backs /metrics; nil falls back to the default registry.
	Gatherer   prometheus.Gatherer
	SendBuffer int
	// StaticDir, when set, serves the built frontend with index.html as the
	// fallback for client-side routes.
	StaticDir string
	// TracerProvider is handed to the WebSocket handler; nil uses the
	// global provider.
	TracerProvider trace.TracerProvider
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return security.OriginAllowed(r.Header.Get("Origin"), s.AllowedOrigins)
		},
	}
	r.Handle("/ws", &wshandler.ClientHandler{
		Hub:            s.Hub,
		Upgrader:       upgrader,
		SendBuffer:     s.SendBuffer,
		TracerProvider: s.TracerProvider,
	})

	r.Get("/health", s.handleHealth)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{sessionID}", s.handleGetSession)
		r.Delete("/{sessionID}", s.handleDeleteSession)
	})

	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if s.StaticDir != "" {
		r.Handle("/*", spaHandler(filepath.Clean(s.StaticDir)))
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.Hub.SessionCount()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := s.Hub.CreateSession(actor(r))
	writeJSON(w, http.StatusCreated, map[string]any{"sessionId": id})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Hub.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.Hub.DeleteSession(actor(r), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && security.OriginAllowed(origin, s.AllowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if st, err := os.Stat(path); err != nil || st.IsDir() && !strings.HasSuffix(r.URL.Path, "/") {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})
}

func actor(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return "http:" + id
	}
	return "http"
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if errors.Is(err, core.ErrSessionNotFound) {
		code = http.StatusNotFound
		msg = "Session not found"
	}
	writeJSON(w, code, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
