// Package api provides the HTTP/JSON surface of the orchestrator: task
// CRUD and control, the SSE event feed, diff retrieval, and promotion.
// The server carries no state of its own; everything routes through the
// orchestrator.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	errdefs "github.com/conductor-dev/conductor/internal/errors"
	"github.com/conductor-dev/conductor/internal/orchestrator"
)

// maxBodyBytes caps request bodies; anything larger is rejected before
// it reaches a handler's decoder.
const maxBodyBytes = 1 << 20

// Server is the conductor API server.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates an API server over the given orchestrator.
func New(orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:   orch,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, ready to mount behind a proxy.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	// CORS middleware wrapper
	cors := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			h(w, r)
		}
	}

	s.mux.HandleFunc("GET /healthz", cors(s.handleHealth))

	s.mux.HandleFunc("POST /tasks", cors(s.handleCreateTask))
	s.mux.HandleFunc("GET /tasks", cors(s.handleListTasks))
	s.mux.HandleFunc("GET /tasks/{id}", cors(s.handleGetTask))

	s.mux.HandleFunc("POST /tasks/{id}/cancel", cors(s.handleCancelTask))
	s.mux.HandleFunc("POST /tasks/{id}/resume", cors(s.handleResumeTask))
	s.mux.HandleFunc("POST /tasks/{id}/input", cors(s.handleSendInput))

	s.mux.HandleFunc("GET /tasks/{id}/repos/{repoId}/diff", cors(s.handleGetDiff))
	s.mux.HandleFunc("POST /tasks/{id}/promote", cors(s.handlePromoteTask))
	s.mux.HandleFunc("POST /tasks/{id}/repos/{repoId}/promote", cors(s.handlePromoteRepo))

	// Streaming endpoints manage their own headers
	s.mux.HandleFunc("GET /tasks/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /tasks/{id}/ws", s.handleWS)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonOK(w, map[string]any{"status": "healthy"})
}

// jsonOK writes the success envelope, merging extra fields into it.
func (s *Server) jsonOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// jsonErr writes the failure envelope.
func (s *Server) jsonErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":      false,
		"code":    code,
		"message": message,
	})
}

// handleError maps a structured error onto the failure envelope.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	var cerr *errdefs.ConductorError
	if errors.As(err, &cerr) {
		s.jsonErr(w, cerr.HTTPStatus(), string(cerr.Code), cerr.Error())
		return
	}
	s.jsonErr(w, http.StatusInternalServerError, string(errdefs.CodeStoreFailed), err.Error())
}

// decodeBody decodes a JSON request body with the size cap applied.
// An empty body decodes into the zero value.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errdefs.New(errdefs.CodeBodyTooBig, "request body too large")
	}
	return errdefs.ErrBadRequest("malformed JSON: " + err.Error())
}

// sinceParam parses the ?since= replay cursor, defaulting to 0.
func sinceParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errdefs.ErrBadRequest("since must be a non-negative integer")
	}
	return n, nil
}
