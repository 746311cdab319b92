package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errdefs "github.com/conductor-dev/conductor/internal/errors"
	"github.com/conductor-dev/conductor/internal/events"
	"github.com/conductor-dev/conductor/internal/hosting"
	"github.com/conductor-dev/conductor/internal/runner"
	"github.com/conductor-dev/conductor/internal/task"
)

// prepare turns one repository descriptor into a ready working copy and
// starts its process. Runs in its own goroutine per repository; a
// failure here marks only this repository, siblings are untouched.
func (o *Orchestrator) prepare(taskID, repoID string) {
	ctx := o.background()

	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return
	}
	r := t.Repo(repoID)
	if r == nil || r.Status != task.RepoPending {
		o.mu.Unlock()
		return
	}
	r.WorkDir = o.store.WorktreePath(taskID, repoID)
	o.setRepoStatus(t, r, task.RepoPreparing)
	o.refresh(t)
	kind, source, branch, workDir := r.Kind, r.Source, r.Branch, r.WorkDir
	o.mu.Unlock()

	// git work happens outside the lock; other tasks keep moving
	var stage string
	var err error
	switch kind {
	case task.KindLocal:
		stage = "worktree_create"
		o.stageEvent(taskID, repoID, stage)
		err = o.git.AddWorktree(ctx, source, workDir, branch)
	case task.KindGit:
		stage = "clone"
		o.stageEvent(taskID, repoID, stage)
		cloneURL := hosting.TokenURL(source, o.cfg.GitToken)
		if err = o.git.Clone(ctx, cloneURL, workDir); err == nil {
			err = o.git.CheckoutNewBranch(ctx, workDir, branch)
		}
	default:
		err = fmt.Errorf("unknown repo kind %q", kind)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok = o.tasks[taskID]
	if !ok {
		return
	}
	r = t.Repo(repoID)
	if r == nil || r.Status == task.RepoCanceled {
		return
	}
	if err != nil {
		o.repoError(t, r, stage, errors.New(o.redactToken(err.Error())))
		return
	}

	o.setRepoStatus(t, r, task.RepoReady)
	o.stageEventLocked(taskID, repoID, "ready")
	if err := o.startProcess(t, r); err != nil {
		o.repoError(t, r, "spawn", err)
		return
	}
	o.refresh(t)
}

// stageEvent reports preparation progress on the feed.
func (o *Orchestrator) stageEvent(taskID, repoID, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stageEventLocked(taskID, repoID, stage)
}

// stageEventLocked is stageEvent for callers already holding o.mu.
func (o *Orchestrator) stageEventLocked(taskID, repoID, stage string) {
	t, ok := o.tasks[taskID]
	if !ok {
		return
	}
	r := t.Repo(repoID)
	if r == nil {
		return
	}
	o.emit(t, events.Event{
		Kind:    events.KindRepoStatus,
		RepoID:  repoID,
		Status:  string(r.Status),
		Message: stage,
	})
}

// startProcess spawns the agent command in the repository's working
// copy and wires its output and exit into the feed. Callers hold o.mu.
// At most one live process exists per (task, repo) pair.
func (o *Orchestrator) startProcess(t *task.Task, r *task.Repo) error {
	key := procKey(t.ID, r.ID)
	if o.procs[key] != nil {
		return fmt.Errorf("process already live for repo %s", r.ID)
	}

	taskID, repoID := t.ID, r.ID
	proc, err := runner.Start(runner.Options{
		Command: t.Command,
		WorkDir: r.WorkDir,
		Env: []string{
			"CONDUCTOR_TASK_ID=" + taskID,
			"CONDUCTOR_REPO_ID=" + repoID,
		},
		Prompt: t.Prompt,
		OnOutput: func(stream, line, tag string) {
			o.handleOutput(taskID, repoID, stream, line, tag)
		},
		OnExit: func(res runner.Result) {
			o.handleExit(taskID, repoID, res)
		},
	})
	if err != nil {
		return err
	}

	o.procs[key] = proc
	r.PID = proc.PID()
	o.setRepoStatus(t, r, task.RepoRunning)
	return nil
}

// handleOutput appends one line of process output to the durable log
// before any live fan-out sees it.
func (o *Orchestrator) handleOutput(taskID, repoID, stream, line, tag string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return
	}
	o.emit(t, events.Event{
		Kind:   events.KindLog,
		RepoID: repoID,
		Stream: stream,
		Text:   line,
		Tag:    tag,
	})
}

// handleExit records a process exit, rederives the task status, and
// triggers diff extraction. A non-zero exit is a normal terminal state
// for the repository, not a system fault.
func (o *Orchestrator) handleExit(taskID, repoID string, res runner.Result) {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return
	}
	r := t.Repo(repoID)
	if r == nil {
		o.mu.Unlock()
		return
	}

	delete(o.procs, procKey(taskID, repoID))
	code := res.ExitCode
	r.ExitCode = &code
	r.Signal = res.Signal
	r.PID = 0
	o.emit(t, events.Event{
		Kind:     events.KindRepoExit,
		RepoID:   repoID,
		ExitCode: &code,
		Signal:   res.Signal,
	})

	switch {
	case r.Status == task.RepoCanceled:
		// Cancellation already decided the terminal state
	case code == 0:
		o.setRepoStatus(t, r, task.RepoDone)
	default:
		if res.Signal != "" {
			r.Error = "terminated by signal " + res.Signal
		} else {
			r.Error = fmt.Sprintf("exited with code %d", code)
		}
		o.setRepoStatus(t, r, task.RepoError)
	}
	o.refresh(t)
	workDir := r.WorkDir
	o.mu.Unlock()

	o.extractDiff(taskID, repoID, workDir)
}

// extractDiff captures the working copy's full diff into the repo's
// artifact file. Failures are reported on the feed and never change the
// repository's run status.
func (o *Orchestrator) extractDiff(taskID, repoID, workDir string) {
	ctx := o.background()

	text, err := o.git.CaptureDiff(ctx, workDir)
	var diffPath string
	if err == nil {
		diffPath = o.store.DiffPath(taskID, repoID)
		if mkErr := os.MkdirAll(filepath.Dir(diffPath), 0755); mkErr != nil {
			err = mkErr
		} else {
			err = os.WriteFile(diffPath, []byte(text), 0644)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return
	}
	r := t.Repo(repoID)
	if r == nil {
		return
	}
	if err != nil {
		o.emit(t, events.Event{
			Kind:    events.KindDiffError,
			RepoID:  repoID,
			Message: err.Error(),
		})
		return
	}
	r.DiffPath = diffPath
	o.emit(t, events.Event{
		Kind:   events.KindDiffReady,
		RepoID: repoID,
		Bytes:  len(text),
	})
}

// DiffText returns the captured diff for a repository. When the
// artifact is missing but the working copy still exists, extraction is
// re-run on demand.
func (o *Orchestrator) DiffText(taskID, repoID string) (string, error) {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return "", errdefs.ErrTaskNotFound(taskID)
	}
	r := t.Repo(repoID)
	if r == nil {
		o.mu.Unlock()
		return "", errdefs.ErrRepoNotFound(repoID)
	}
	diffPath := r.DiffPath
	if diffPath == "" {
		diffPath = o.store.DiffPath(taskID, repoID)
	}
	workDir := r.WorkDir
	o.mu.Unlock()

	data, err := os.ReadFile(diffPath)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	if workDir == "" {
		return "", errdefs.ErrDiffNotReady(repoID)
	}
	if _, statErr := os.Stat(workDir); statErr != nil {
		return "", errdefs.ErrDiffNotReady(repoID)
	}
	o.extractDiff(taskID, repoID, workDir)

	data, err = os.ReadFile(diffPath)
	if err != nil {
		return "", errdefs.ErrDiffNotReady(repoID)
	}
	return string(data), nil
}

// redactToken strips the configured token from text destined for logs
// or events. The token must never surface anywhere readable.
func (o *Orchestrator) redactToken(text string) string {
	if o.cfg.GitToken == "" {
		return text
	}
	return strings.ReplaceAll(text, o.cfg.GitToken, "********")
}
