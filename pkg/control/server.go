package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/dpolat/pagelift/internal/observability"
	"github.com/dpolat/pagelift/pkg/bus"
	"github.com/dpolat/pagelift/pkg/session"
)

// TriggerFunc starts a migration run for the given session. Implementations
// run asynchronously; errors returned here are wiring failures only.
type TriggerFunc func(ctx context.Context, sessionID string) error

// Config holds control server configuration.
type Config struct {
	Host       string
	Port       int
	Secret     string // optional; when set, mutating requests need X-Pagelift-Secret
	ObsDir     string
	Sessions   *session.Registry
	TriggerRun TriggerFunc // optional; POST /runs is 404 without it
	Logger     zerolog.Logger
}

// Server is the HTTP control plane for a running daemon: session pause,
// resume and cancel, run status, metrics, and a websocket event stream.
type Server struct {
	host        string
	port        int
	secret      string
	obsDir      string
	sessions    *session.Registry
	triggerRun  TriggerFunc
	logger      zerolog.Logger
	server      *http.Server
	upgrader    websocket.Upgrader
	broadcaster *broadcaster

	shutdownMu     sync.RWMutex
	isShuttingDown bool

	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup
}

// NewServer creates a control server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		secret:      cfg.Secret,
		obsDir:      cfg.ObsDir,
		sessions:    cfg.Sessions,
		triggerRun:  cfg.TriggerRun,
		logger:      cfg.Logger,
		broadcaster: newBroadcaster(cfg.Logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.Addr(),
		Handler: s.routes(),
	}

	s.logger.Info().Str("addr", s.Addr()).Msg("Starting control server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control server error")
		}
	}()

	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionStatus)
	mux.HandleFunc("POST /sessions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /runs/latest", s.handleLatestRun)
	if s.triggerRun != nil {
		mux.HandleFunc("POST /runs", s.handleTriggerRun)
	}
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

// Pump streams run reports from the bus queue to connected clients until the
// server stops.
func (s *Server) Pump(b *bus.Bus, queue string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel
	s.pumpWG.Add(1)

	go func() {
		defer s.pumpWG.Done()
		for {
			report, err := b.Recv(ctx, queue)
			if err != nil {
				return
			}
			s.broadcaster.broadcast("run.complete", report)
		}
	}()
}

// Broadcast sends an event to all stream clients.
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.broadcast(event, data)
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down control server")

	if s.pumpCancel != nil {
		s.pumpCancel()
		s.pumpCancel = nil
	}
	s.pumpWG.Wait()

	s.broadcaster.broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	for _, c := range s.broadcaster.all() {
		c.conn.Close()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Control server stopped")
	return nil
}

func (s *Server) authorized(r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	return r.Header.Get("X-Pagelift-Secret") == s.secret
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	ids := s.sessions.List()
	statuses := make([]SessionStatus, 0, len(ids))
	for _, id := range ids {
		statuses = append(statuses, SessionStatus{
			ID:        id,
			Paused:    s.sessions.IsPaused(id),
			Cancelled: s.sessions.IsCancelled(id),
		})
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.sessions.Get(id); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, SessionStatus{
		ID:        id,
		Paused:    s.sessions.IsPaused(id),
		Cancelled: s.sessions.IsCancelled(id),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.mutateSession(w, r, "session.paused", s.sessions.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.mutateSession(w, r, "session.resumed", s.sessions.Resume)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.mutateSession(w, r, "session.cancelled", s.sessions.Cancel)
}

func (s *Server) mutateSession(w http.ResponseWriter, r *http.Request, event string, op func(string)) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	if _, ok := s.sessions.Get(id); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	op(id)

	s.logger.Info().Str("sessionId", id).Str("event", event).Msg("Session state changed")
	s.broadcaster.broadcast(event, map[string]string{"session_id": id})

	writeJSON(w, http.StatusOK, SessionStatus{
		ID:        id,
		Paused:    s.sessions.IsPaused(id),
		Cancelled: s.sessions.IsCancelled(id),
	})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, _ *http.Request) {
	path := filepath.Join(s.obsDir, "evaluation.json")
	data, err := os.ReadFile(path)
	if err != nil {
		http.Error(w, "no completed runs", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID, _ = gonanoid.New()
	}

	if err := s.triggerRun(r.Context(), req.SessionID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.logger.Info().Str("sessionId", req.SessionID).Msg("Run triggered via control server")
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": req.SessionID})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	c := &client{
		id:          clientID,
		conn:        conn,
		connectedAt: time.Now(),
	}
	s.broadcaster.add(c)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Stream client connected")

	go s.readLoop(c)
}

// readLoop drains the client until it disconnects. Inbound messages are
// ignored; the stream is one way.
func (s *Server) readLoop(c *client) {
	defer func() {
		c.conn.Close()
		s.broadcaster.remove(c.id)
		s.logger.Info().Str("clientId", c.id).Msg("Stream client disconnected")
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", c.id).Msg("WebSocket error")
			}
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
