package orchestrator

import (
	"errors"
	"strings"

	errdefs "github.com/conductor-dev/conductor/internal/errors"
	"github.com/conductor-dev/conductor/internal/events"
	"github.com/conductor-dev/conductor/internal/gitx"
	"github.com/conductor-dev/conductor/internal/hosting"
	"github.com/conductor-dev/conductor/internal/task"
)

// PromoteOptions carry the caller's commit message and PR text; every
// field falls back to a generated default.
type PromoteOptions struct {
	Message string `json:"message,omitempty"`
	PRTitle string `json:"prTitle,omitempty"`
	PRBody  string `json:"prBody,omitempty"`
}

// PromoteResult is the per-repository outcome of a promotion.
type PromoteResult struct {
	RepoID  string `json:"repo_id"`
	Skipped bool   `json:"skipped,omitempty"`
	Pushed  bool   `json:"pushed,omitempty"`
	PRURL   string `json:"pr_url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Promote runs the commit, push, pull-request workflow for one
// repository, or for every repository of the task when repoID is empty.
// A failure in one repository never aborts its siblings; each outcome
// is reported individually and on the feed.
func (o *Orchestrator) Promote(taskID, repoID string, opts PromoteOptions) ([]PromoteResult, error) {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return nil, errdefs.ErrTaskNotFound(taskID)
	}
	var targets []string
	if repoID != "" {
		if t.Repo(repoID) == nil {
			o.mu.Unlock()
			return nil, errdefs.ErrRepoNotFound(repoID)
		}
		targets = []string{repoID}
	} else {
		for _, r := range t.Repos {
			targets = append(targets, r.ID)
		}
	}
	title, prompt := t.Title, t.Prompt
	o.mu.Unlock()

	results := make([]PromoteResult, 0, len(targets))
	for _, id := range targets {
		results = append(results, o.promoteRepo(taskID, id, title, prompt, opts))
	}
	return results, nil
}

// promoteRepo runs the promotion steps for one repository.
func (o *Orchestrator) promoteRepo(taskID, repoID, title, prompt string, opts PromoteOptions) PromoteResult {
	ctx := o.background()
	result := PromoteResult{RepoID: repoID}

	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		result.Error = "task not found"
		return result
	}
	r := t.Repo(repoID)
	if r == nil {
		o.mu.Unlock()
		result.Error = "repository not found"
		return result
	}
	workDir, branch, kind, source := r.WorkDir, r.Branch, r.Kind, r.Source
	o.mu.Unlock()

	if workDir == "" {
		return o.promoteError(taskID, repoID, &result, errors.New("no working copy"))
	}

	// Step 1: stage and commit
	o.promoteEvent(taskID, repoID, "commit")
	message := opts.Message
	if message == "" {
		message = "conductor: " + title
	}
	commitErr := func() error {
		if err := o.git.StageAll(ctx, workDir); err != nil {
			return err
		}
		return o.git.Commit(ctx, workDir, message, o.cfg.GitAuthorName, o.cfg.GitAuthorEmail)
	}()
	if errors.Is(commitErr, gitx.ErrNothingToCommit) {
		// A clean working copy is a recognized skip outcome, not an error
		o.promoteSkip(taskID, repoID)
		result.Skipped = true
		return result
	}
	if commitErr != nil {
		return o.promoteError(taskID, repoID, &result, commitErr)
	}

	// Step 2: resolve the push target
	remote := source
	if kind == task.KindLocal {
		url, err := o.git.RemoteURL(ctx, workDir)
		if err != nil || strings.TrimSpace(url) == "" {
			// Local source with no remote: the commit on the work branch
			// is the whole outcome
			o.promoteEvent(taskID, repoID, "commit_only")
			return result
		}
		remote = strings.TrimSpace(url)
	}

	pushTarget := "origin"
	provider := hosting.DetectProvider(remote)
	if provider != hosting.ProviderUnknown && o.cfg.GitToken != "" {
		pushTarget = hosting.TokenURL(remote, o.cfg.GitToken)
	}

	// Step 3: push the work branch
	o.promoteEvent(taskID, repoID, "push")
	if err := o.git.Push(ctx, workDir, pushTarget, branch); err != nil {
		return o.promoteError(taskID, repoID, &result, err)
	}
	result.Pushed = true

	// Steps 4-5: open a PR when the provider is recognized and a token
	// is present; otherwise the push is a successful partial outcome
	if o.cfg.GitToken == "" {
		o.promoteEvent(taskID, repoID, "pushed_no_pr")
		return result
	}
	prov, err := hosting.NewProvider(remote, o.cfg.GitToken)
	if err != nil {
		return o.promoteError(taskID, repoID, &result, err)
	}
	if prov == nil {
		o.promoteEvent(taskID, repoID, "pushed_no_pr")
		return result
	}

	o.promoteEvent(taskID, repoID, "pr")
	prURL, err := o.openPR(taskID, repoID, branch, title, prompt, prov, opts)
	if err != nil {
		return o.promoteError(taskID, repoID, &result, err)
	}
	result.PRURL = prURL
	return result
}

// openPR creates (or finds) the pull request for the work branch and
// records its URL on the repository.
func (o *Orchestrator) openPR(taskID, repoID, branch, title, prompt string, prov hosting.Provider, opts PromoteOptions) (string, error) {
	ctx := o.background()

	base, err := prov.DefaultBranch(ctx)
	if err != nil {
		return "", err
	}

	// Re-promotion reuses an already-open PR for the same branch
	pr, err := prov.FindPRByBranch(ctx, branch)
	if err != nil {
		return "", err
	}
	if pr == nil {
		prTitle := opts.PRTitle
		if prTitle == "" {
			prTitle = title
		}
		prBody := opts.PRBody
		if prBody == "" {
			prBody = prompt
		}
		pr, err = prov.CreatePR(ctx, hosting.PRCreateOptions{
			Title: prTitle,
			Body:  prBody,
			Head:  branch,
			Base:  base,
		})
		if err != nil {
			return "", err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return pr.HTMLURL, nil
	}
	if r := t.Repo(repoID); r != nil {
		r.PRURL = pr.HTMLURL
	}
	o.emit(t, events.Event{Kind: events.KindPRCreated, RepoID: repoID, URL: pr.HTMLURL})
	return pr.HTMLURL, nil
}

// promoteEvent reports progress through the promotion steps.
func (o *Orchestrator) promoteEvent(taskID, repoID, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.tasks[taskID]; ok {
		o.emit(t, events.Event{Kind: events.KindPromoteStatus, RepoID: repoID, Message: stage})
	}
}

// promoteSkip records a nothing-to-commit outcome.
func (o *Orchestrator) promoteSkip(taskID, repoID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.tasks[taskID]; ok {
		o.emit(t, events.Event{Kind: events.KindPromoteSkip, RepoID: repoID, Message: "nothing to commit"})
	}
}

// promoteError records a failed promotion step on the feed and in the
// per-repo result; siblings keep going.
func (o *Orchestrator) promoteError(taskID, repoID string, result *PromoteResult, err error) PromoteResult {
	msg := o.redactToken(err.Error())
	result.Error = msg
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.tasks[taskID]; ok {
		o.emit(t, events.Event{Kind: events.KindPromoteError, RepoID: repoID, Message: msg})
	}
	return *result
}
