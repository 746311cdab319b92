package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-dev/conductor/internal/events"
	"github.com/conductor-dev/conductor/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSaveLoadTask(t *testing.T) {
	s := newTestStore(t)

	code := 0
	in := &task.Task{
		ID:        "t1",
		Title:     "demo",
		Prompt:    "do the thing",
		Command:   "true",
		Status:    task.StatusDone,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		NextSeq:   7,
		Repos: []*task.Repo{{
			ID:       "r1",
			Kind:     task.KindLocal,
			Source:   "/work",
			Branch:   "conductor/t1-r1",
			Status:   task.RepoDone,
			ExitCode: &code,
		}},
	}
	require.NoError(t, s.SaveTask(in))

	out, err := s.LoadTask("t1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.NextSeq, out.NextSeq)
	require.Len(t, out.Repos, 1)
	assert.Equal(t, task.RepoDone, out.Repos[0].Status)
	require.NotNil(t, out.Repos[0].ExitCode)
	assert.Equal(t, 0, *out.Repos[0].ExitCode)
}

func TestLoadTaskMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadTask("nope")
	assert.Error(t, err)
}

func TestSaveTaskAtomicOverwrite(t *testing.T) {
	s := newTestStore(t)
	tk := &task.Task{ID: "t1", Title: "v1"}
	require.NoError(t, s.SaveTask(tk))
	tk.Title = "v2"
	require.NoError(t, s.SaveTask(tk))

	out, err := s.LoadTask("t1")
	require.NoError(t, err)
	assert.Equal(t, "v2", out.Title)

	// No temp files left behind
	entries, err := os.ReadDir(s.TaskDir("t1"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestLoadAllNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveTask(&task.Task{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	tasks, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "c", tasks[0].ID)
	assert.Equal(t, "a", tasks[2].ID)
}

func TestLoadAllSkipsBrokenEntries(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTask(&task.Task{ID: "good"}))

	badDir := s.TaskDir("bad")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "task.json"), []byte("{not json"), 0644))

	tasks, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "good", tasks[0].ID)
}

func TestAppendAndReadEvents(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.AppendEvent("t1", events.Event{
			Seq:  i,
			Kind: events.KindLog,
			Text: "line",
		}))
	}

	all, err := s.ReadEventsSince("t1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, e := range all {
		assert.Equal(t, i+1, e.Seq)
	}

	tail, err := s.ReadEventsSince("t1", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 4, tail[0].Seq)
	assert.Equal(t, 5, tail[1].Seq)
}

func TestReadEventsMissingLog(t *testing.T) {
	s := newTestStore(t)
	evs, err := s.ReadEventsSince("t1", 0)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestReadEventsSkipsTornLine(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendEvent("t1", events.Event{Seq: 1, Kind: events.KindCreated}))

	// Simulate a crash mid-append
	path := filepath.Join(s.TaskDir("t1"), "events.ndjson")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"kind":"lo`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	evs, err := s.ReadEventsSince("t1", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, 1, evs[0].Seq)
}

func TestPathsUniquePerRepo(t *testing.T) {
	s := newTestStore(t)
	assert.NotEqual(t, s.WorktreePath("t1", "a"), s.WorktreePath("t1", "b"))
	assert.NotEqual(t, s.WorktreePath("t1", "a"), s.WorktreePath("t2", "a"))
	assert.Equal(t, filepath.Join(s.RepoDir("t1", "a"), "diff.patch"), s.DiffPath("t1", "a"))
}
