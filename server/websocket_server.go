package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signal-meaning/voiceproxy/config"
	"github.com/signal-meaning/voiceproxy/messages"
	"github.com/signal-meaning/voiceproxy/session"
)

// Server accepts client WebSocket connections and hands each one to the
// session manager.
type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	manager    *session.Manager
	config     *config.Config
	log        *slog.Logger
}

func New(cfg *config.Config, manager *session.Manager, logger *slog.Logger) *Server {
	s := &Server{
		manager: manager,
		config:  cfg,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024, // 64KB for audio frames
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	return s
}

// Start begins listening for connections.
func (s *Server) Start() error {
	s.log.Info("proxy listening", "port", s.config.Port, "endpoint", "/ws")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and all live connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	s.manager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// The client may supply its own correlation id; it defaults to the
	// generated connection id otherwise.
	traceID := r.URL.Query().Get("traceId")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	proxyConn, err := s.manager.CreateConn(r.Context(), conn, traceID)
	if err != nil {
		s.log.Error("failed to create connection", "error", err)
		_ = conn.WriteJSON(messages.NewError(messages.ErrCodeSessionFailed, err.Error()))
		conn.Close()
		return
	}

	s.log.Info("connection accepted", "connection_id", proxyConn.ID, "trace_id", proxyConn.TraceID)

	proxyConn.Start()

	// Wait for the connection to close, then deregister.
	<-proxyConn.CloseChan
	_ = s.manager.RemoveConn(context.Background(), proxyConn.ID)
	s.log.Info("connection removed", "connection_id", proxyConn.ID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.manager.ActiveCount())
}
