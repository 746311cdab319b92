// Package task provides the task and repository model for conductor.
package task

import (
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// RepoStatus represents the lifecycle state of one repository within a task.
type RepoStatus string

const (
	RepoPending   RepoStatus = "pending"
	RepoPreparing RepoStatus = "preparing"
	RepoReady     RepoStatus = "ready"
	RepoRunning   RepoStatus = "running"
	RepoDone      RepoStatus = "done"
	RepoError     RepoStatus = "error"
	RepoCanceled  RepoStatus = "canceled"
)

// Terminal reports whether a repository status is final.
func (s RepoStatus) Terminal() bool {
	return s == RepoDone || s == RepoError || s == RepoCanceled
}

// RepoKind identifies how a repository source is addressed.
type RepoKind string

const (
	// KindLocal is a filesystem path to an existing checkout.
	KindLocal RepoKind = "local"
	// KindGit is a remote URL to clone.
	KindGit RepoKind = "git"
)

// Repo is one target codebase within a task.
type Repo struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Kind     RepoKind   `json:"kind"`
	Source   string     `json:"source"`
	Branch   string     `json:"branch"`
	WorkDir  string     `json:"work_dir,omitempty"`
	DiffPath string     `json:"diff_path,omitempty"`
	Status   RepoStatus `json:"status"`
	PID      int        `json:"pid,omitempty"`
	ExitCode *int       `json:"exit_code,omitempty"`
	Signal   string     `json:"signal,omitempty"`
	PRURL    string     `json:"pr_url,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Task is one user-submitted unit of work spanning one or more repositories.
// Live process handles are runtime-only and never serialized.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Prompt    string    `json:"prompt"`
	Command   string    `json:"command"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	NextSeq   int       `json:"next_seq"`
	Repos     []*Repo   `json:"repos"`
}

// Repo returns the repository with the given id, or nil.
func (t *Task) Repo(id string) *Repo {
	for _, r := range t.Repos {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand out while the original keeps
// mutating under the orchestrator lock.
func (t *Task) Clone() *Task {
	out := *t
	out.Repos = make([]*Repo, len(t.Repos))
	for i, r := range t.Repos {
		cp := *r
		if r.ExitCode != nil {
			v := *r.ExitCode
			cp.ExitCode = &v
		}
		out.Repos[i] = &cp
	}
	return &out
}

// DeriveStatus computes the task status from its repository statuses.
// It is the only way Task.Status may be produced:
//   - running while any repository is live (preparing/ready/running)
//   - queued while every repository is still pending
//   - otherwise error if any repository errored, canceled if any was
//     canceled, done when all completed cleanly
func DeriveStatus(repos []*Repo) Status {
	if len(repos) == 0 {
		return StatusDone
	}

	allPending := true
	anyLive := false
	anyError := false
	anyCanceled := false
	for _, r := range repos {
		if r.Status != RepoPending {
			allPending = false
		}
		switch r.Status {
		case RepoPreparing, RepoReady, RepoRunning:
			anyLive = true
		case RepoError:
			anyError = true
		case RepoCanceled:
			anyCanceled = true
		}
	}

	switch {
	case allPending:
		return StatusQueued
	case anyLive:
		return StatusRunning
	case anyError:
		return StatusError
	case anyCanceled:
		return StatusCanceled
	default:
		return StatusDone
	}
}

// Refresh recomputes the derived status and bumps the update timestamp.
func (t *Task) Refresh() {
	t.Status = DeriveStatus(t.Repos)
	t.UpdatedAt = time.Now().UTC()
}
