// Package bridge exposes a running engine to out-of-process consumers. It
// serves the JSON protocol over HTTP (health, snapshot, intents) and streams
// every output over a WebSocket that also accepts intents.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ajtruex/agenttrafficcontrol/internal/engine"
	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrDisabled is returned by Start when the bridge is turned off.
var ErrDisabled = errors.New("bridge: server disabled")

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Logger is the narrow logging surface the bridge needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Controller accepts intents and reports the current state. *engine.Loop
// satisfies it.
type Controller interface {
	Send(ctx context.Context, intent protocol.Intent) error
	Snapshot() protocol.Snapshot
}

// Server wraps the HTTP listener and handlers backing the bridge.
type Server struct {
	settings   Settings
	controller Controller
	hub        *Hub
	logger     Logger
	clock      func() time.Time
	instanceID string
	upgrader   websocket.Upgrader

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithHub shares a hub that was wired into the engine loop before the server
// existed.
func WithHub(h *Hub) Option {
	return func(s *Server) {
		if h != nil {
			s.hub = h
		}
	}
}

// NewServer prepares a bridge server for controller.
func NewServer(settings Settings, controller Controller, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings:   settings,
		controller: controller,
		logger:     nopLogger{},
		clock:      func() time.Time { return time.Now().UTC() },
		instanceID: uuid.NewString(),
		status:     StatusStarting,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.hub == nil {
		s.hub = NewHub(controller.Snapshot, settings.QueueSize, s.logger)
	}
	return s
}

// Sink returns the engine sink that feeds the stream subscribers.
func (s *Server) Sink() engine.Sink {
	return s.hub
}

// Hub exposes the subscriber hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// InstanceID identifies this bridge process.
func (s *Server) InstanceID() string {
	return s.instanceID
}

// Handler builds the chi router. It is exported for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.settings.WriteTimeout))
		r.Get("/health", s.handleHealth)
		r.Head("/health", s.handleHealth)
		r.Get("/snapshot", s.handleSnapshot)
		r.Post("/intents", s.handleIntent)
	})
	r.Get("/ws", s.handleStream)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return r
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bridge: server is nil")
	}
	if !s.settings.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("bridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.settings.ReadTimeout,
		IdleTimeout: s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("bridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("bridge: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections, closes the streams and waits for
// in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	server := s.server
	if s.listener == nil || server == nil {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusDraining
	s.listener = nil
	s.server = nil
	s.mu.Unlock()

	// Handlers read the status under the same lock, so drain without it.
	s.hub.Close()
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	return server.Shutdown(deadline)
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	InstanceID    string `json:"instance_id"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Subscribers   int    `json:"subscribers"`
	TickID        uint64 `json:"tick_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        string(s.Status()),
		Version:       protocol.Version,
		InstanceID:    s.instanceID,
		UptimeSeconds: s.uptimeSeconds(),
		Subscribers:   s.hub.Len(),
		TickID:        s.controller.Snapshot().TickID,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := protocol.EncodeMessage(s.controller.Snapshot())
	if err != nil {
		s.logger.Printf("bridge: encode snapshot: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "snapshot unavailable"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}
	intent, err := protocol.DecodeIntent(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.controller.Send(r.Context(), intent); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrLoopStopped) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Printf("bridge: send %s: %v", intent.Type(), err)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "type": string(intent.Type())})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("bridge: websocket upgrade failed: %v", err)
		return
	}
	sub, err := s.hub.Subscribe()
	if err != nil {
		s.logger.Printf("bridge: subscribe: %v", err)
		conn.Close()
		return
	}
	s.logger.Printf("bridge: subscriber %s connected from %s", sub.ID, r.RemoteAddr)

	done := make(chan struct{})
	go s.readIntents(conn, sub, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer conn.Close()
	defer sub.Close()
	for {
		select {
		case frame, ok := <-sub.Frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Printf("bridge: write to %s: %v", sub.ID, err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			s.logger.Printf("bridge: subscriber %s disconnected", sub.ID)
			return
		}
	}
}

// readIntents forwards intents written by a stream client to the engine.
func (s *Server) readIntents(conn *websocket.Conn, sub Subscription, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(s.settings.MaxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("bridge: websocket error from %s: %v", sub.ID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		intent, err := protocol.DecodeIntent(data)
		if err != nil {
			s.logger.Printf("bridge: bad intent from %s: %v", sub.ID, err)
			continue
		}
		if err := s.controller.Send(context.Background(), intent); err != nil {
			s.logger.Printf("bridge: send %s: %v", intent.Type(), err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
