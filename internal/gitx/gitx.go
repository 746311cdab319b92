// Package gitx wraps the git CLI for working-copy preparation, diff
// capture, and promotion. All operations run through a CommandRunner so
// tests can substitute a fake.
package gitx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNothingToCommit indicates a commit was requested with a clean index.
var ErrNothingToCommit = errors.New("nothing to commit")

// Git provides git operations against arbitrary working directories.
type Git struct {
	run CommandRunner
}

// New creates a Git using the given runner; nil means the real git CLI.
func New(run CommandRunner) *Git {
	if run == nil {
		run = NewExecRunner()
	}
	return &Git{run: run}
}

// AddWorktree creates a linked working tree of the repository at srcRepo
// on a new branch rooted at the source's current HEAD, without disturbing
// the source checkout. Stale worktree registrations (directory deleted,
// registration left behind) are pruned and the add retried.
func (g *Git) AddWorktree(ctx context.Context, srcRepo, worktreePath, branch string) error {
	if err := os.MkdirAll(filepath.Dir(worktreePath), 0755); err != nil {
		return fmt.Errorf("create worktree parent: %w", err)
	}

	_, err := g.run.Run(ctx, srcRepo, "git", "worktree", "add", "-b", branch, worktreePath, "HEAD")
	if err == nil {
		return nil
	}

	// Branch may already exist from a previous run of the same task
	if _, err2 := g.run.Run(ctx, srcRepo, "git", "worktree", "add", worktreePath, branch); err2 == nil {
		return nil
	}

	_, _ = g.run.Run(ctx, srcRepo, "git", "worktree", "prune")

	if _, err2 := g.run.Run(ctx, srcRepo, "git", "worktree", "add", "-b", branch, worktreePath, "HEAD"); err2 == nil {
		return nil
	}
	if _, err2 := g.run.Run(ctx, srcRepo, "git", "worktree", "add", worktreePath, branch); err2 == nil {
		return nil
	}
	return fmt.Errorf("add worktree %s: %w", worktreePath, err)
}

// Clone clones url into dest. The url may already carry credentials; it
// must never end up in logs.
func (g *Git) Clone(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create clone parent: %w", err)
	}
	if _, err := g.run.Run(ctx, filepath.Dir(dest), "git", "clone", url, dest); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	return nil
}

// CheckoutNewBranch creates and checks out branch from the current HEAD.
func (g *Git) CheckoutNewBranch(ctx context.Context, dir, branch string) error {
	if _, err := g.run.Run(ctx, dir, "git", "checkout", "-b", branch); err != nil {
		// Resume case: branch already exists
		if _, err2 := g.run.Run(ctx, dir, "git", "checkout", branch); err2 == nil {
			return nil
		}
		return fmt.Errorf("checkout branch %s: %w", branch, err)
	}
	return nil
}

// StageAll stages every working-copy change, tracked and untracked.
func (g *Git) StageAll(ctx context.Context, dir string) error {
	if _, err := g.run.Run(ctx, dir, "git", "add", "-A"); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	return nil
}

// DiffCached returns the staged diff as text.
func (g *Git) DiffCached(ctx context.Context, dir string) (string, error) {
	out, err := g.run.Run(ctx, dir, "git", "diff", "--cached")
	if err != nil {
		return "", fmt.Errorf("diff --cached: %w", err)
	}
	return out, nil
}

// ResetIndex unstages everything, leaving the working tree untouched.
func (g *Git) ResetIndex(ctx context.Context, dir string) error {
	if _, err := g.run.Run(ctx, dir, "git", "reset"); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	return nil
}

// CaptureDiff stages all changes, captures the staged diff, then resets
// the index: a side-effect-free snapshot of everything the working copy
// would commit. Running it twice with no intervening change yields the
// same text.
func (g *Git) CaptureDiff(ctx context.Context, dir string) (string, error) {
	if err := g.StageAll(ctx, dir); err != nil {
		return "", err
	}
	text, err := g.DiffCached(ctx, dir)
	if resetErr := g.ResetIndex(ctx, dir); resetErr != nil && err == nil {
		err = resetErr
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// HasStagedChanges reports whether the index differs from HEAD.
func (g *Git) HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	_, err := g.run.Run(ctx, dir, "git", "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	// Exit status 1 means the index is dirty; anything else (128 for a
	// corrupt or absent repository) is a real failure
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return true, nil
	}
	return false, fmt.Errorf("check staged changes: %w", err)
}

// Commit commits the index with the given message and author identity.
// Returns ErrNothingToCommit when the index is clean.
func (g *Git) Commit(ctx context.Context, dir, message, authorName, authorEmail string) error {
	staged, err := g.HasStagedChanges(ctx, dir)
	if err != nil {
		return err
	}
	if !staged {
		return ErrNothingToCommit
	}

	args := []string{}
	if authorName != "" {
		args = append(args, "-c", "user.name="+authorName)
	}
	if authorEmail != "" {
		args = append(args, "-c", "user.email="+authorEmail)
	}
	args = append(args, "commit", "-m", message)

	if _, err := g.run.Run(ctx, dir, "git", args...); err != nil {
		if strings.Contains(err.Error(), "nothing to commit") {
			return ErrNothingToCommit
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Push pushes HEAD to branch on the given target (remote name or URL),
// creating the remote branch if absent and setting upstream when target
// is a named remote.
func (g *Git) Push(ctx context.Context, dir, target, branch string) error {
	if _, err := g.run.Run(ctx, dir, "git", "push", target, "HEAD:refs/heads/"+branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// RemoteURL returns the origin remote URL of the repository at dir.
func (g *Git) RemoteURL(ctx context.Context, dir string) (string, error) {
	out, err := g.run.Run(ctx, dir, "git", "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("get remote URL: %w", err)
	}
	return out, nil
}

// IsRepo reports whether dir is inside a git working tree.
func (g *Git) IsRepo(ctx context.Context, dir string) bool {
	out, err := g.run.Run(ctx, dir, "git", "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}
