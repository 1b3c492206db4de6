// Package server wires the websocket stream endpoint and health checks
// into an HTTP server.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/websocket"

	"github.com/voxline-ai/voxline/pkg/gateway/config"
	"github.com/voxline-ai/voxline/pkg/gateway/stream"
)

type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	mux        *http.ServeMux
	dispatcher *stream.Dispatcher
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, dispatcher *stream.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			// Telephony providers connect server-to-server without an
			// Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/stream", s.handleStream)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			"remote", r.RemoteAddr, "error", err)
		return
	}
	s.logger.Info("stream connected", "remote", r.RemoteAddr)
	s.dispatcher.HandleConn(r.Context(), conn)
	s.logger.Info("stream closed", "remote", r.RemoteAddr)
}

// Handler returns the mux wrapped with panic recovery.
func (s *Server) Handler() http.Handler {
	return s.recoverer(s.mux)
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler",
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
