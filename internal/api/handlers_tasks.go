package api

import (
	"net/http"

	errdefs "github.com/conductor-dev/conductor/internal/errors"
	"github.com/conductor-dev/conductor/internal/orchestrator"
)

// handleCreateTask handles POST /tasks.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	t, err := s.orch.Create(req)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.logger.Info("task created", "task", t.ID, "repos", len(t.Repos))
	s.jsonOK(w, map[string]any{"task": t})
}

// handleListTasks handles GET /tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.jsonOK(w, map[string]any{"tasks": s.orch.List()})
}

// handleGetTask handles GET /tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Get(r.PathValue("id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonOK(w, map[string]any{"task": t})
}

// handleCancelTask handles POST /tasks/{id}/cancel.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Cancel(id); err != nil {
		s.handleError(w, err)
		return
	}
	s.logger.Info("task canceled", "task", id)
	s.jsonOK(w, nil)
}

// handleResumeTask handles POST /tasks/{id}/resume.
func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.orch.Resume(id)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.logger.Info("task resumed", "task", id)
	s.jsonOK(w, map[string]any{"task": t})
}

// inputRequest is the body of POST /tasks/{id}/input.
type inputRequest struct {
	Text   string `json:"text"`
	RepoID string `json:"repoId,omitempty"`
}

// handleSendInput handles POST /tasks/{id}/input.
func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.handleError(w, err)
		return
	}
	if req.Text == "" {
		s.handleError(w, errdefs.ErrBadRequest("text is required"))
		return
	}

	if err := s.orch.SendInput(r.PathValue("id"), req.RepoID, req.Text); err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonOK(w, nil)
}

// handleGetDiff handles GET /tasks/{id}/repos/{repoId}/diff. The diff
// is returned as plain text, not wrapped in the JSON envelope.
func (s *Server) handleGetDiff(w http.ResponseWriter, r *http.Request) {
	text, err := s.orch.DiffText(r.PathValue("id"), r.PathValue("repoId"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}

// handlePromoteTask handles POST /tasks/{id}/promote.
func (s *Server) handlePromoteTask(w http.ResponseWriter, r *http.Request) {
	var opts orchestrator.PromoteOptions
	if err := s.decodeBody(w, r, &opts); err != nil {
		s.handleError(w, err)
		return
	}

	results, err := s.orch.Promote(r.PathValue("id"), "", opts)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonOK(w, map[string]any{"results": results})
}

// handlePromoteRepo handles POST /tasks/{id}/repos/{repoId}/promote.
func (s *Server) handlePromoteRepo(w http.ResponseWriter, r *http.Request) {
	var opts orchestrator.PromoteOptions
	if err := s.decodeBody(w, r, &opts); err != nil {
		s.handleError(w, err)
		return
	}

	results, err := s.orch.Promote(r.PathValue("id"), r.PathValue("repoId"), opts)
	if err != nil {
		s.handleError(w, err)
		return
	}

	// Single-repo promotion flattens its one result into the envelope
	res := results[0]
	extra := map[string]any{}
	if res.Skipped {
		extra["skipped"] = true
	}
	if res.Pushed {
		extra["pushed"] = true
	}
	if res.PRURL != "" {
		extra["pr_url"] = res.PRURL
	}
	if res.Error != "" {
		s.jsonErr(w, http.StatusInternalServerError, string(errdefs.CodeGitFailed), res.Error)
		return
	}
	s.jsonOK(w, extra)
}
