// Package events provides the per-task event log and live feed for conductor.
package events

import (
	"time"
)

// Kind defines the type of event.
type Kind string

const (
	// KindCreated indicates a task was created.
	KindCreated Kind = "created"
	// KindTaskStatus indicates the derived task status changed.
	KindTaskStatus Kind = "task_status"
	// KindRepoStatus indicates a repository status or preparation stage change.
	KindRepoStatus Kind = "repo_status"
	// KindLog indicates a chunk of process output.
	KindLog Kind = "log"
	// KindRepoExit indicates a repository's process exited.
	KindRepoExit Kind = "repo_exit"
	// KindDiffReady indicates a diff artifact was captured.
	KindDiffReady Kind = "diff_ready"
	// KindDiffError indicates diff extraction failed.
	KindDiffError Kind = "diff_error"
	// KindPromoteStatus indicates progress through the promotion workflow.
	KindPromoteStatus Kind = "promote_status"
	// KindPromoteSkip indicates promotion found nothing to commit.
	KindPromoteSkip Kind = "promote_skip"
	// KindPromoteError indicates a promotion step failed.
	KindPromoteError Kind = "promote_error"
	// KindPRCreated indicates a pull request was opened.
	KindPRCreated Kind = "pr_created"
	// KindInput indicates text was forwarded to process stdin.
	KindInput Kind = "input"
	// KindCanceled indicates cancellation was requested.
	KindCanceled Kind = "canceled"
	// KindResumed indicates the task was resumed after a restart.
	KindResumed Kind = "resumed"
	// KindError indicates a non-fatal orchestrator error.
	KindError Kind = "error"
)

// Event is an immutable, ordered fact about a task. Seq is assigned by the
// feed at append time: strictly increasing, starting at 1, gap-free within
// a task.
type Event struct {
	Seq      int       `json:"seq"`
	Time     time.Time `json:"time"`
	Kind     Kind      `json:"kind"`
	RepoID   string    `json:"repo_id,omitempty"`
	Status   string    `json:"status,omitempty"`
	Stream   string    `json:"stream,omitempty"`
	Text     string    `json:"text,omitempty"`
	Tag      string    `json:"tag,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Signal   string    `json:"signal,omitempty"`
	Bytes    int       `json:"bytes,omitempty"`
	Message  string    `json:"message,omitempty"`
	URL      string    `json:"url,omitempty"`
}
