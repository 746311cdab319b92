// Package orchestrator coordinates task lifecycle: working-copy
// preparation, process supervision, the event feed, diff extraction,
// and promotion. It owns all task state; every mutation happens under
// one mutex so repository transitions never race each other.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conductor-dev/conductor/internal/config"
	errdefs "github.com/conductor-dev/conductor/internal/errors"
	"github.com/conductor-dev/conductor/internal/events"
	"github.com/conductor-dev/conductor/internal/gitx"
	"github.com/conductor-dev/conductor/internal/runner"
	"github.com/conductor-dev/conductor/internal/store"
	"github.com/conductor-dev/conductor/internal/task"
)

// Orchestrator is the coordinating façade behind the HTTP surface.
type Orchestrator struct {
	cfg    *config.Config
	store  *store.Store
	feed   *events.Feed
	git    *gitx.Git
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task.Task
	// procs holds live process handles, keyed taskID+"/"+repoID.
	// Runtime-only: never persisted, rebuilt empty after restart.
	procs map[string]*runner.Process
}

// New creates an orchestrator and hydrates every task found on disk.
// Tasks persisted mid-run stay as written; their processes are gone, so
// they are not considered live until Resume is invoked.
func New(cfg *config.Config, st *store.Store, feed *events.Feed, git *gitx.Git, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:    cfg,
		store:  st,
		feed:   feed,
		git:    git,
		logger: logger,
		tasks:  make(map[string]*task.Task),
		procs:  make(map[string]*runner.Process),
	}

	loaded, err := st.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, t := range loaded {
		// NextSeq must never fall behind the durable log, or restarted
		// numbering would collide with persisted events
		if evs, err := st.ReadEventsSince(t.ID, 0); err == nil && len(evs) > 0 {
			if last := evs[len(evs)-1].Seq; last > t.NextSeq {
				t.NextSeq = last
			}
		}
		o.tasks[t.ID] = t
	}
	return o, nil
}

// RepoSpec describes one repository in a create request.
type RepoSpec struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Source string `json:"source"`
}

// CreateRequest carries the fields of a task submission.
type CreateRequest struct {
	Title   string     `json:"title,omitempty"`
	Prompt  string     `json:"prompt"`
	Command string     `json:"command,omitempty"`
	Repos   []RepoSpec `json:"repos,omitempty"`
}

// Create registers a new task and starts preparing every repository in
// the background. The returned snapshot has all repositories pending.
func (o *Orchestrator) Create(req CreateRequest) (*task.Task, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errdefs.ErrBadRequest("prompt is required")
	}
	command := req.Command
	if command == "" {
		command = o.cfg.AgentCommand
	}
	if command == "" {
		return nil, errdefs.ErrBadRequest("command is required (no default agent command configured)")
	}

	specs := req.Repos
	if len(specs) == 0 {
		// A bare submission targets the server's working directory
		wd, err := os.Getwd()
		if err != nil {
			return nil, errdefs.Wrap(errdefs.CodeStoreFailed, "resolve working directory", err)
		}
		specs = []RepoSpec{{Kind: string(task.KindLocal), Source: wd}}
	}

	t := &task.Task{
		ID:      task.NewID(),
		Title:   req.Title,
		Prompt:  req.Prompt,
		Command: command,
		Status:  task.StatusQueued,
	}
	if t.Title == "" {
		t.Title = deriveTitle(req.Prompt)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	seen := map[string]bool{}
	for i, spec := range specs {
		r, err := buildRepo(spec, i, seen)
		if err != nil {
			return nil, err
		}
		r.Branch = task.BranchName(o.cfg.BranchPrefix, t.ID, r.ID)
		t.Repos = append(t.Repos, r)
	}

	o.mu.Lock()
	o.tasks[t.ID] = t
	o.emit(t, events.Event{Kind: events.KindCreated, Message: t.Title})
	snapshot := t.Clone()
	o.mu.Unlock()

	for _, r := range t.Repos {
		go o.prepare(t.ID, r.ID)
	}
	return snapshot, nil
}

// buildRepo validates one repo spec and fills derived fields.
func buildRepo(spec RepoSpec, pos int, seen map[string]bool) (*task.Repo, error) {
	if strings.TrimSpace(spec.Source) == "" {
		return nil, errdefs.ErrBadRequest("repo source is required")
	}

	kind := task.RepoKind(spec.Kind)
	if kind == "" {
		kind = task.KindLocal
		if strings.Contains(spec.Source, "://") || strings.Contains(spec.Source, "@") {
			kind = task.KindGit
		}
	}
	if kind != task.KindLocal && kind != task.KindGit {
		return nil, errdefs.ErrBadRequest("repo kind must be local or git")
	}

	id := spec.ID
	if id == "" {
		id = task.RepoIDFromSource(spec.Source, pos)
	}
	if seen[id] {
		return nil, errdefs.ErrBadRequest("duplicate repo id " + id)
	}
	seen[id] = true

	name := spec.Name
	if name == "" {
		name = id
	}
	return &task.Repo{
		ID:     id,
		Name:   name,
		Kind:   kind,
		Source: spec.Source,
		Status: task.RepoPending,
	}, nil
}

// deriveTitle builds a short title from the first line of the prompt.
func deriveTitle(prompt string) string {
	line := strings.TrimSpace(prompt)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	const max = 72
	if len(line) > max {
		line = strings.TrimSpace(line[:max])
	}
	return line
}

// Get returns a snapshot of one task.
func (o *Orchestrator) Get(id string) (*task.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, errdefs.ErrTaskNotFound(id)
	}
	return t.Clone(), nil
}

// List returns snapshots of all known tasks, newest first.
func (o *Orchestrator) List() []*task.Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*task.Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Subscribe opens an event subscription for a task, replaying durable
// events with seq greater than since before any live delivery.
func (o *Orchestrator) Subscribe(id string, since int) (<-chan events.Event, error) {
	o.mu.Lock()
	_, ok := o.tasks[id]
	o.mu.Unlock()
	if !ok {
		return nil, errdefs.ErrTaskNotFound(id)
	}
	return o.feed.Subscribe(id, since)
}

// Unsubscribe releases an event subscription.
func (o *Orchestrator) Unsubscribe(id string, ch <-chan events.Event) {
	o.feed.Unsubscribe(id, ch)
}

// Cancel signals every live process of the task and marks all
// non-terminal repositories canceled. Termination is cooperative: a
// signaled process keeps emitting output until it actually exits.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok {
		return errdefs.ErrTaskNotFound(id)
	}

	o.emit(t, events.Event{Kind: events.KindCanceled})
	for _, r := range t.Repos {
		if r.Status.Terminal() {
			continue
		}
		if proc := o.procs[procKey(id, r.ID)]; proc != nil {
			if err := proc.Terminate(); err != nil {
				o.logger.Warn("terminate process", "task", id, "repo", r.ID, "error", err)
			}
		}
		o.setRepoStatus(t, r, task.RepoCanceled)
	}
	o.refresh(t)
	return nil
}

// Resume restarts the process runner for every repository that is not
// terminal and not currently live, provided its working copy still
// exists. Working copies are assumed intact; nothing is re-prepared.
func (o *Orchestrator) Resume(id string) (*task.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok {
		return nil, errdefs.ErrTaskNotFound(id)
	}

	resumed := 0
	for _, r := range t.Repos {
		if r.Status == task.RepoDone || r.Status == task.RepoCanceled {
			continue
		}
		if o.procs[procKey(id, r.ID)] != nil {
			continue
		}
		if r.WorkDir == "" {
			continue
		}
		if _, err := os.Stat(r.WorkDir); err != nil {
			continue
		}
		r.ExitCode = nil
		r.Signal = ""
		r.Error = ""
		if err := o.startProcess(t, r); err != nil {
			o.repoError(t, r, "resume", err)
			continue
		}
		resumed++
	}
	if resumed > 0 {
		o.emit(t, events.Event{
			Kind:    events.KindResumed,
			Message: fmt.Sprintf("resumed %d repositories", resumed),
		})
	}
	o.refresh(t)
	return t.Clone(), nil
}

// SendInput forwards a line of text to the stdin of the addressed
// repository's live process, or to every live process when repoID is
// empty. Best-effort: repositories without a live process are skipped.
func (o *Orchestrator) SendInput(id, repoID, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok {
		return errdefs.ErrTaskNotFound(id)
	}
	if repoID != "" && t.Repo(repoID) == nil {
		return errdefs.ErrRepoNotFound(repoID)
	}

	for _, r := range t.Repos {
		if repoID != "" && r.ID != repoID {
			continue
		}
		proc := o.procs[procKey(id, r.ID)]
		if proc == nil {
			continue
		}
		if err := proc.SendInput(text); err != nil {
			o.logger.Warn("send input", "task", id, "repo", r.ID, "error", err)
			continue
		}
		o.emit(t, events.Event{Kind: events.KindInput, RepoID: r.ID, Text: text})
	}
	return nil
}

// emit appends an event through the feed and persists the task so the
// advanced sequence counter survives restart. Callers hold o.mu.
func (o *Orchestrator) emit(t *task.Task, e events.Event) {
	o.feed.Append(t, e)
	if err := o.store.SaveTask(t); err != nil {
		o.logger.Error("persist task", "task", t.ID, "error", err)
	}
}

// setRepoStatus records a repository transition and emits repo_status.
// Callers hold o.mu.
func (o *Orchestrator) setRepoStatus(t *task.Task, r *task.Repo, s task.RepoStatus) {
	r.Status = s
	o.emit(t, events.Event{Kind: events.KindRepoStatus, RepoID: r.ID, Status: string(s)})
}

// refresh rederives the task status and announces a change.
// Callers hold o.mu.
func (o *Orchestrator) refresh(t *task.Task) {
	before := t.Status
	t.Refresh()
	if t.Status != before {
		o.emit(t, events.Event{Kind: events.KindTaskStatus, Status: string(t.Status)})
	} else if err := o.store.SaveTask(t); err != nil {
		o.logger.Error("persist task", "task", t.ID, "error", err)
	}
}

// repoError records a repository failure without touching siblings.
// Callers hold o.mu.
func (o *Orchestrator) repoError(t *task.Task, r *task.Repo, what string, err error) {
	r.Error = what + ": " + err.Error()
	o.setRepoStatus(t, r, task.RepoError)
	o.emit(t, events.Event{Kind: events.KindError, RepoID: r.ID, Message: r.Error})
	o.refresh(t)
}

func procKey(taskID, repoID string) string {
	return taskID + "/" + repoID
}

// background returns the context used for git and hosting calls that
// outlive any single HTTP request.
func (o *Orchestrator) background() context.Context {
	return context.Background()
}
