// Package store persists tasks and their event logs as a directory tree:
// one directory per task holding task.json (atomic replace-on-write),
// events.ndjson (append-only), and one subdirectory per repository with
// its working copy and diff artifact.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/conductor-dev/conductor/internal/events"
	"github.com/conductor-dev/conductor/internal/task"
)

const (
	taskFileName   = "task.json"
	eventsFileName = "events.ndjson"
	diffFileName   = "diff.patch"
	worktreeDir    = "worktree"
)

// Store is a file-based task store rooted at a data directory.
type Store struct {
	root string
}

// New creates a store rooted at dataDir, creating the tasks directory.
func New(dataDir string) (*Store, error) {
	root := filepath.Join(dataDir, "tasks")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: root}, nil
}

// TaskDir returns the directory holding a task's durable state.
func (s *Store) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

// RepoDir returns the directory holding a repository's working copy and
// artifacts.
func (s *Store) RepoDir(taskID, repoID string) string {
	return filepath.Join(s.root, taskID, "repos", repoID)
}

// WorktreePath returns the working-copy path for a (task, repo) pair.
// Unique per pair: never shared across tasks or repositories.
func (s *Store) WorktreePath(taskID, repoID string) string {
	return filepath.Join(s.RepoDir(taskID, repoID), worktreeDir)
}

// DiffPath returns the diff artifact path for a (task, repo) pair.
func (s *Store) DiffPath(taskID, repoID string) string {
	return filepath.Join(s.RepoDir(taskID, repoID), diffFileName)
}

// SaveTask persists task metadata atomically. Live process handles are not
// part of the model and are therefore never written.
func (s *Store) SaveTask(t *task.Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	path := filepath.Join(s.TaskDir(t.ID), taskFileName)
	if err := atomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write task %s: %w", t.ID, err)
	}
	return nil
}

// LoadTask reads one task's metadata from disk.
func (s *Store) LoadTask(taskID string) (*task.Task, error) {
	data, err := os.ReadFile(filepath.Join(s.TaskDir(taskID), taskFileName))
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", taskID, err)
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse task %s: %w", taskID, err)
	}
	return &t, nil
}

// LoadAll hydrates every task found under the store root, newest first.
// Entries that fail to parse are skipped rather than failing startup.
func (s *Store) LoadAll() ([]*task.Task, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read store root: %w", err)
	}

	var tasks []*task.Task
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		t, err := s.LoadTask(entry.Name())
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// AppendEvent writes one event as a single NDJSON line in arrival order.
// The log is append-only: records are never rewritten or deleted.
func (s *Store) AppendEvent(taskID string, e events.Event) error {
	if err := os.MkdirAll(s.TaskDir(taskID), 0755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}

	path := filepath.Join(s.TaskDir(taskID), eventsFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadEventsSince returns all durable events with sequence greater than
// since, in log order. A missing log file means no events yet.
func (s *Store) ReadEventsSince(taskID string, since int) ([]events.Event, error) {
	path := filepath.Join(s.TaskDir(taskID), eventsFileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var out []events.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e events.Event
		if err := json.Unmarshal(line, &e); err != nil {
			// Torn trailing line after a crash; ignore
			continue
		}
		if e.Seq > since {
			out = append(out, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return out, nil
}
