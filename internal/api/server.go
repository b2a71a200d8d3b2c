// Package api implements the HTTP front door for the scheduling agent.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/careloop/sam-agent/internal/agent"
	"github.com/careloop/sam-agent/internal/buildinfo"
	"github.com/careloop/sam-agent/internal/memory"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	listen      string
	loop        *agent.Loop
	memoryStore *memory.SQLiteStore
	logger      *slog.Logger
	server      *http.Server
}

// NewServer creates a new API server.
func NewServer(listen string, loop *agent.Loop, logger *slog.Logger) *Server {
	return &Server{
		listen: listen,
		loop:   loop,
		logger: logger,
	}
}

// SetMemoryStore configures the conversation store for the history and
// health endpoints.
func (s *Server) SetMemoryStore(ms *memory.SQLiteStore) {
	s.memoryStore = ms
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Go 1.21's ServeMux has no method patterns ("POST /v1/chat"), so
	// enforce the method in a wrapper with the same semantics.
	method := func(m string, h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != m {
				w.Header().Set("Allow", m)
				http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("/v1/chat", method(http.MethodPost, s.handleChat))
	mux.HandleFunc("/v1/conversations", method(http.MethodGet, s.handleConversationList))

	mux.HandleFunc("/v1/version", method(http.MethodGet, s.handleVersion))
	mux.HandleFunc("/health", method(http.MethodGet, s.handleHealth))
	mux.HandleFunc("/", method(http.MethodGet, s.handleRoot))

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.listen,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Long enough for a full tool loop; turns keep running after
		// the client goes away, so this only bounds the response write.
		WriteTimeout: 120 * time.Second,
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Sam",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "healthy"}
	if s.memoryStore != nil {
		health["store"] = s.memoryStore.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, health, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if s.memoryStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}

	convs, err := s.memoryStore.Conversations()
	if err != nil {
		s.logger.Error("conversation list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversations": convs,
		"count":         len(convs),
	}, s.logger)
}

// ChatRequest is one user message on a conversation. Callers identify
// the conversation either directly via thread_id or via user_id, which
// maps to the user's standing appointment thread.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// ChatResponse carries the agent's reply.
type ChatResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id"`
}

// threadKeyForUser maps a user id to that user's standing appointment
// conversation.
func threadKeyForUser(userID string) string {
	return fmt.Sprintf("appointment-thread-%s", userID)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	threadKey := req.ThreadID
	if threadKey == "" {
		if req.UserID == "" {
			s.errorResponse(w, http.StatusBadRequest, "thread_id or user_id is required")
			return
		}
		threadKey = threadKeyForUser(req.UserID)
	}

	reply, err := s.loop.RunTurn(r.Context(), threadKey, req.Message)
	if err != nil {
		s.logger.Error("turn failed", "thread", threadKey, "error", err)
		switch {
		case errors.Is(err, agent.ErrAgentUnavailable):
			s.errorResponse(w, http.StatusServiceUnavailable, "the assistant is temporarily unavailable")
		case errors.Is(err, agent.ErrTurnLimitExceeded):
			s.errorResponse(w, http.StatusInternalServerError, "the assistant could not complete the request")
		default:
			s.errorResponse(w, http.StatusInternalServerError, "agent error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Response: reply,
		ThreadID: threadKey,
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
