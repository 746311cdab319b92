package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/conductor-dev/conductor/internal/config"
	"github.com/conductor-dev/conductor/internal/events"
	"github.com/conductor-dev/conductor/internal/gitx"
	"github.com/conductor-dev/conductor/internal/store"
	"github.com/conductor-dev/conductor/internal/task"
)

func newTestOrch(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := events.NewFeed(st, logger)
	cfg := &config.Config{
		BranchPrefix:   "conductor/",
		GitAuthorName:  "conductor",
		GitAuthorEmail: "conductor@example.com",
	}
	o, err := New(cfg, st, feed, gitx.New(nil), logger)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return o, st
}

// initRepo creates a git repository with one commit.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustGit(t, dir, "init", "-b", "main")
	mustGit(t, dir, "config", "user.name", "test")
	mustGit(t, dir, "config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, dir, "add", "-A")
	mustGit(t, dir, "commit", "-m", "initial")
	return dir
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
}

// waitStatus polls until the task reaches the wanted status.
func waitStatus(t *testing.T, o *Orchestrator, id string, want task.Status) *task.Task {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		tk, err := o.Get(id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if tk.Status == want {
			return tk
		}
		time.Sleep(25 * time.Millisecond)
	}
	tk, _ := o.Get(id)
	t.Fatalf("task %s never reached %s (stuck at %s)", id, want, tk.Status)
	return nil
}

func TestCreateRunsToCompletion(t *testing.T) {
	o, st := newTestOrch(t)
	src := initRepo(t)

	tk, err := o.Create(CreateRequest{
		Prompt:  "run it",
		Command: "true",
		Repos:   []RepoSpec{{ID: "r1", Kind: "local", Source: src}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tk.Status != task.StatusQueued {
		t.Fatalf("initial status = %s, want queued", tk.Status)
	}
	if got := tk.Repos[0].Status; got != task.RepoPending {
		t.Fatalf("initial repo status = %s, want pending", got)
	}
	if b := tk.Repos[0].Branch; !strings.HasPrefix(b, "conductor/") {
		t.Fatalf("branch = %q, missing prefix", b)
	}

	done := waitStatus(t, o, tk.ID, task.StatusDone)
	r := done.Repos[0]
	if r.Status != task.RepoDone {
		t.Fatalf("repo status = %s, want done", r.Status)
	}
	if r.ExitCode == nil || *r.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", r.ExitCode)
	}

	// Every event seq from 1, strictly increasing, no gaps
	evs, err := st.ReadEventsSince(tk.ID, 0)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(evs) == 0 {
		t.Fatal("no events recorded")
	}
	for i, e := range evs {
		if e.Seq != i+1 {
			t.Fatalf("event %d has seq %d (gap or duplicate)", i, e.Seq)
		}
	}
	if evs[0].Kind != events.KindCreated {
		t.Fatalf("first event kind = %s, want created", evs[0].Kind)
	}
}

func TestCreateValidation(t *testing.T) {
	o, _ := newTestOrch(t)

	if _, err := o.Create(CreateRequest{Command: "true"}); err == nil {
		t.Fatal("expected error for missing prompt")
	}
	if _, err := o.Create(CreateRequest{Prompt: "p"}); err == nil {
		t.Fatal("expected error for missing command with no default")
	}
	if _, err := o.Create(CreateRequest{
		Prompt:  "p",
		Command: "true",
		Repos:   []RepoSpec{{Kind: "weird", Source: "/x"}},
	}); err == nil {
		t.Fatal("expected error for bad repo kind")
	}
	if _, err := o.Create(CreateRequest{
		Prompt:  "p",
		Command: "true",
		Repos:   []RepoSpec{{ID: "a", Source: "/x"}, {ID: "a", Source: "/y"}},
	}); err == nil {
		t.Fatal("expected error for duplicate repo id")
	}
}

func TestGetAndListOrdering(t *testing.T) {
	o, _ := newTestOrch(t)
	src := initRepo(t)

	if _, err := o.Get("missing"); err == nil {
		t.Fatal("expected not-found for unknown task")
	}

	first, _ := o.Create(CreateRequest{Prompt: "a", Command: "true",
		Repos: []RepoSpec{{ID: "r", Kind: "local", Source: src}}})
	time.Sleep(10 * time.Millisecond)
	second, _ := o.Create(CreateRequest{Prompt: "b", Command: "true",
		Repos: []RepoSpec{{ID: "r", Kind: "local", Source: src}}})

	list := o.List()
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatal("list is not newest first")
	}
}

func TestPrepareFailureMarksRepoOnly(t *testing.T) {
	o, _ := newTestOrch(t)
	good := initRepo(t)

	tk, err := o.Create(CreateRequest{
		Prompt:  "p",
		Command: "true",
		Repos: []RepoSpec{
			{ID: "bad", Kind: "git", Source: filepath.Join(t.TempDir(), "no-such-repo")},
			{ID: "good", Kind: "local", Source: good},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	final := waitStatus(t, o, tk.ID, task.StatusError)
	bad, good2 := final.Repo("bad"), final.Repo("good")
	if bad.Status != task.RepoError {
		t.Fatalf("bad repo status = %s, want error", bad.Status)
	}
	if bad.Error == "" {
		t.Fatal("bad repo has no captured message")
	}
	if bad.PID != 0 || bad.ExitCode != nil {
		t.Fatal("process was spawned for a failed preparation")
	}
	if good2.Status != task.RepoDone {
		t.Fatalf("sibling status = %s, want done", good2.Status)
	}
}

func TestNonZeroExitIsRepoError(t *testing.T) {
	o, _ := newTestOrch(t)
	src := initRepo(t)

	tk, _ := o.Create(CreateRequest{Prompt: "p", Command: "exit 7",
		Repos: []RepoSpec{{ID: "r1", Kind: "local", Source: src}}})

	final := waitStatus(t, o, tk.ID, task.StatusError)
	r := final.Repos[0]
	if r.ExitCode == nil || *r.ExitCode != 7 {
		t.Fatalf("exit code = %v, want 7", r.ExitCode)
	}
	if !strings.Contains(r.Error, "7") {
		t.Fatalf("error = %q, want exit code mention", r.Error)
	}
}

func TestCancelSignalsLiveProcesses(t *testing.T) {
	o, _ := newTestOrch(t)
	src := initRepo(t)

	tk, _ := o.Create(CreateRequest{Prompt: "p", Command: "sleep 60",
		Repos: []RepoSpec{{ID: "r1", Kind: "local", Source: src}}})

	waitStatus(t, o, tk.ID, task.StatusRunning)
	if err := o.Cancel(tk.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	final := waitStatus(t, o, tk.ID, task.StatusCanceled)
	if final.Repos[0].Status != task.RepoCanceled {
		t.Fatalf("repo status = %s, want canceled", final.Repos[0].Status)
	}
}

func TestAgentOutputBecomesLogEvents(t *testing.T) {
	o, st := newTestOrch(t)
	src := initRepo(t)

	tk, _ := o.Create(CreateRequest{Prompt: "p",
		Command: `echo working; echo '{"type":"result"}'`,
		Repos:   []RepoSpec{{ID: "r1", Kind: "local", Source: src}}})
	waitStatus(t, o, tk.ID, task.StatusDone)

	evs, _ := st.ReadEventsSince(tk.ID, 0)
	var plain, tagged bool
	for _, e := range evs {
		if e.Kind != events.KindLog {
			continue
		}
		if e.Text == "working" && e.Stream == "stdout" && e.Tag == "" {
			plain = true
		}
		if e.Tag == "result" {
			tagged = true
		}
	}
	if !plain {
		t.Fatal("plain stdout line missing from log events")
	}
	if !tagged {
		t.Fatal("JSON line was not tagged")
	}
}

func TestDiffExtractionAfterExit(t *testing.T) {
	o, st := newTestOrch(t)
	src := initRepo(t)

	tk, _ := o.Create(CreateRequest{Prompt: "p",
		Command: "echo fresh > created.txt",
		Repos:   []RepoSpec{{ID: "r1", Kind: "local", Source: src}}})
	final := waitStatus(t, o, tk.ID, task.StatusDone)

	text, err := o.DiffText(tk.ID, "r1")
	if err != nil {
		t.Fatalf("diff text: %v", err)
	}
	if !strings.Contains(text, "created.txt") {
		t.Fatalf("diff missing created file: %q", text)
	}

	// Second read yields the same artifact
	again, err := o.DiffText(tk.ID, "r1")
	if err != nil || again != text {
		t.Fatalf("diff not stable across reads")
	}
	if final.Repos[0].DiffPath == "" {
		t.Fatal("diff path not recorded")
	}

	evs, _ := st.ReadEventsSince(tk.ID, 0)
	found := false
	for _, e := range evs {
		if e.Kind == events.KindDiffReady && e.Bytes > 0 {
			found = true
		}
	}
	if !found {
		t.Fatal("no diff_ready event with byte count")
	}
}

func TestDiffNotReady(t *testing.T) {
	o, _ := newTestOrch(t)
	src := initRepo(t)

	tk, _ := o.Create(CreateRequest{Prompt: "p", Command: "true",
		Repos: []RepoSpec{{ID: "r1", Kind: "local", Source: src}}})
	waitStatus(t, o, tk.ID, task.StatusDone)

	if _, err := o.DiffText(tk.ID, "missing"); err == nil {
		t.Fatal("expected repo-not-found")
	}
	if _, err := o.DiffText("missing", "r1"); err == nil {
		t.Fatal("expected task-not-found")
	}
}

func TestSendInputWithoutLiveProcess(t *testing.T) {
	o, _ := newTestOrch(t)
	src := initRepo(t)

	tk, _ := o.Create(CreateRequest{Prompt: "p", Command: "true",
		Repos: []RepoSpec{{ID: "r1", Kind: "local", Source: src}}})
	waitStatus(t, o, tk.ID, task.StatusDone)

	// Best-effort: no live process is not an error
	if err := o.SendInput(tk.ID, "", "hello"); err != nil {
		t.Fatalf("send input: %v", err)
	}
	if err := o.SendInput(tk.ID, "missing", "hello"); err == nil {
		t.Fatal("expected repo-not-found for unknown repo id")
	}
}

func TestPromoteSkipWhenClean(t *testing.T) {
	o, _ := newTestOrch(t)
	src := initRepo(t)

	tk, _ := o.Create(CreateRequest{Prompt: "p", Command: "true",
		Repos: []RepoSpec{{ID: "r1", Kind: "local", Source: src}}})
	waitStatus(t, o, tk.ID, task.StatusDone)

	results, err := o.Promote(tk.ID, "r1", PromoteOptions{})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(results) != 1 || !results[0].Skipped {
		t.Fatalf("results = %+v, want one skipped", results)
	}
	if results[0].Error != "" {
		t.Fatalf("skip carried an error: %s", results[0].Error)
	}
}

func TestPromoteCommitWithoutRemote(t *testing.T) {
	o, _ := newTestOrch(t)
	src := initRepo(t)

	tk, _ := o.Create(CreateRequest{Prompt: "p",
		Command: "echo change > change.txt",
		Repos:   []RepoSpec{{ID: "r1", Kind: "local", Source: src}}})
	waitStatus(t, o, tk.ID, task.StatusDone)

	results, err := o.Promote(tk.ID, "", PromoteOptions{Message: "apply change"})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	res := results[0]
	if res.Skipped || res.Error != "" {
		t.Fatalf("result = %+v, want clean commit-only outcome", res)
	}
	if res.Pushed {
		t.Fatal("pushed without a remote")
	}

	// The commit landed on the work branch
	final, _ := o.Get(tk.ID)
	cmd := exec.Command("git", "log", "-1", "--format=%s", final.Repos[0].Branch)
	cmd.Dir = src
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git log: %v", err)
	}
	if strings.TrimSpace(string(out)) != "apply change" {
		t.Fatalf("commit subject = %q", out)
	}
}

func TestPromotePushesToRemote(t *testing.T) {
	o, _ := newTestOrch(t)
	src := initRepo(t)

	tk, _ := o.Create(CreateRequest{Prompt: "p",
		Command: "echo change > change.txt",
		Repos:   []RepoSpec{{ID: "r1", Kind: "git", Source: src}}})
	waitStatus(t, o, tk.ID, task.StatusDone)

	results, err := o.Promote(tk.ID, "r1", PromoteOptions{})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	res := results[0]
	if res.Error != "" {
		t.Fatalf("promote error: %s", res.Error)
	}
	if !res.Pushed {
		t.Fatal("expected a push to origin")
	}
	if res.PRURL != "" {
		t.Fatal("PR created for an unrecognized remote")
	}

	final, _ := o.Get(tk.ID)
	cmd := exec.Command("git", "branch", "--list", final.Repos[0].Branch)
	cmd.Dir = src
	out, _ := cmd.Output()
	if !strings.Contains(string(out), final.Repos[0].Branch) {
		t.Fatalf("work branch not pushed to source repo: %s", out)
	}
}

// scriptedGit fakes the git CLI for promotion flows that need a
// recognized hosting remote without touching the network.
type scriptedGit struct {
	mu     sync.Mutex
	remote string
	pushes []string
}

func (s *scriptedGit) Run(ctx context.Context, workDir, name string, args ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	joined := strings.Join(args, " ")
	switch {
	case strings.HasPrefix(joined, "diff --cached --quiet"):
		return "", &gitx.CommandError{
			Command:  name,
			Args:     args,
			WorkDir:  workDir,
			ExitCode: 1,
			Err:      errors.New("exit status 1"),
		}
	case strings.HasPrefix(joined, "remote get-url"):
		return s.remote, nil
	case args[0] == "push":
		s.pushes = append(s.pushes, joined)
		return "", nil
	default:
		return "", nil
	}
}

func TestPromoteWithoutTokenStopsAfterPush(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		BranchPrefix:   "conductor/",
		GitAuthorName:  "conductor",
		GitAuthorEmail: "conductor@example.com",
	}
	git := &scriptedGit{remote: "https://github.com/acme/widget.git"}

	now := time.Now().UTC()
	tk := &task.Task{
		ID:        "t1",
		Title:     "widget work",
		Prompt:    "p",
		Command:   "true",
		Status:    task.StatusDone,
		CreatedAt: now,
		UpdatedAt: now,
		Repos: []*task.Repo{{
			ID:      "r1",
			Name:    "r1",
			Kind:    task.KindLocal,
			Source:  "/src/widget",
			Branch:  "conductor/t1-r1",
			WorkDir: filepath.Join(t.TempDir(), "wt"),
			Status:  task.RepoDone,
		}},
	}
	if err := st.SaveTask(tk); err != nil {
		t.Fatal(err)
	}

	o, err := New(cfg, st, events.NewFeed(st, logger), gitx.New(git), logger)
	if err != nil {
		t.Fatal(err)
	}

	// Recognized remote, no token: commit and push succeed and the
	// promotion ends there as a successful partial outcome
	results, err := o.Promote("t1", "r1", PromoteOptions{})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	res := results[0]
	if res.Error != "" {
		t.Fatalf("promotion errored without a token: %s", res.Error)
	}
	if !res.Pushed {
		t.Fatal("expected the work branch to be pushed")
	}
	if res.PRURL != "" {
		t.Fatalf("PR opened without a token: %s", res.PRURL)
	}
	if len(git.pushes) != 1 {
		t.Fatalf("push count = %d, want 1", len(git.pushes))
	}

	evs, _ := st.ReadEventsSince("t1", 0)
	var sawNoPR bool
	for _, e := range evs {
		if e.Kind == events.KindPromoteStatus && e.Message == "pushed_no_pr" {
			sawNoPR = true
		}
		if e.Kind == events.KindPromoteError {
			t.Fatalf("promote_error on the feed: %s", e.Message)
		}
	}
	if !sawNoPR {
		t.Fatal("missing pushed_no_pr outcome on the feed")
	}
}

func TestRestartHydratesAndResumes(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{BranchPrefix: "conductor/"}
	src := initRepo(t)

	o1, err := New(cfg, st, events.NewFeed(st, logger), gitx.New(nil), logger)
	if err != nil {
		t.Fatal(err)
	}
	tk, _ := o1.Create(CreateRequest{Prompt: "p", Command: "exit 1",
		Repos: []RepoSpec{{ID: "r1", Kind: "local", Source: src}}})
	waitStatus(t, o1, tk.ID, task.StatusError)
	before, _ := st.ReadEventsSince(tk.ID, 0)

	// A fresh orchestrator over the same store sees the task
	o2, err := New(cfg, st, events.NewFeed(st, logger), gitx.New(nil), logger)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := o2.Get(tk.ID)
	if err != nil {
		t.Fatalf("task lost across restart: %v", err)
	}
	if loaded.Status != task.StatusError {
		t.Fatalf("hydrated status = %s, want error", loaded.Status)
	}

	// Resume reruns the errored repo; numbering continues without gaps
	if _, err := o2.Resume(tk.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitStatus(t, o2, tk.ID, task.StatusError)

	after, _ := st.ReadEventsSince(tk.ID, 0)
	if len(after) <= len(before) {
		t.Fatal("resume produced no new events")
	}
	for i, e := range after {
		if e.Seq != i+1 {
			t.Fatalf("event %d has seq %d after restart (gap or duplicate)", i, e.Seq)
		}
	}

	var resumedMsg string
	for _, e := range after {
		if e.Kind == events.KindResumed {
			resumedMsg = e.Message
		}
	}
	if !strings.Contains(resumedMsg, "resumed 1") {
		t.Fatalf("resumed event message = %q, want repo count", resumedMsg)
	}
}
