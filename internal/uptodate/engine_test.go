package uptodate_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/depstore"
	"taskforge/internal/task"
	"taskforge/internal/uptodate"
)

func newEngine(t *testing.T) (*uptodate.Engine, *depstore.Store) {
	t.Helper()
	backend, err := depstore.OpenJSON(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	store := depstore.New(backend)
	return uptodate.New(store), store
}

func TestClassifyRunsTaskWithNoDependencies(t *testing.T) {
	engine, _ := newEngine(t)
	status, err := engine.Classify(&task.Task{Name: "noop"})
	require.NoError(t, err)
	assert.Equal(t, uptodate.Run, status)
}

func TestClassifyRunsThenUpToDateOnUnchangedFileDep(t *testing.T) {
	dir := t.TempDir()
	dep := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(dep, []byte("v1"), 0o644))

	engine, store := newEngine(t)
	tk := &task.Task{Name: "build", FileDep: []string{dep}}

	status, err := engine.Classify(tk)
	require.NoError(t, err)
	assert.Equal(t, uptodate.Run, status, "first run: no prior fingerprint recorded")

	require.NoError(t, store.SaveSuccess(tk))

	tk2 := &task.Task{Name: "build", FileDep: []string{dep}}
	status, err = engine.Classify(tk2)
	require.NoError(t, err)
	assert.Equal(t, uptodate.UpToDate, status)
}

func TestClassifyReRunsWhenFileDepContentChanges(t *testing.T) {
	dir := t.TempDir()
	dep := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(dep, []byte("v1"), 0o644))

	engine, store := newEngine(t)
	tk := &task.Task{Name: "build", FileDep: []string{dep}}
	_, err := engine.Classify(tk)
	require.NoError(t, err)
	require.NoError(t, store.SaveSuccess(tk))

	require.NoError(t, os.WriteFile(dep, []byte("v2, longer content"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(dep, future, future))

	tk2 := &task.Task{Name: "build", FileDep: []string{dep}}
	status, err := engine.Classify(tk2)
	require.NoError(t, err)
	assert.Equal(t, uptodate.Run, status)
	assert.Contains(t, tk2.DepChanged, dep)
}

func TestClassifyRespectsIgnore(t *testing.T) {
	engine, store := newEngine(t)
	store.Ignore("flaky")
	status, err := engine.Classify(&task.Task{Name: "flaky", Uptodate: []task.UptodateEntry{uptodate.RunOnce{}}})
	require.NoError(t, err)
	assert.Equal(t, uptodate.Ignore, status)
}

func TestRunOnceNeverReRunsAfterSuccess(t *testing.T) {
	engine, store := newEngine(t)
	tk := &task.Task{Name: "once", Uptodate: []task.UptodateEntry{uptodate.RunOnce{}}}

	status, err := engine.Classify(tk)
	require.NoError(t, err)
	assert.Equal(t, uptodate.Run, status)
	require.NoError(t, store.SaveSuccess(tk))

	tk2 := &task.Task{Name: "once", Uptodate: []task.UptodateEntry{uptodate.RunOnce{}}}
	status, err = engine.Classify(tk2)
	require.NoError(t, err)
	assert.Equal(t, uptodate.UpToDate, status)
}

func TestClassifyReRunsOnDefinitionChange(t *testing.T) {
	engine, store := newEngine(t)
	tk := &task.Task{Name: "build", Uptodate: []task.UptodateEntry{uptodate.RunOnce{}}}
	_, err := engine.Classify(tk)
	require.NoError(t, err)
	require.NoError(t, store.SaveSuccess(tk))

	tk2 := &task.Task{
		Name:     "build",
		Uptodate: []task.UptodateEntry{uptodate.RunOnce{}},
		Actions:  []task.Action{task.NewShellAction("echo changed", "", nil)},
	}
	status, err := engine.Classify(tk2)
	require.NoError(t, err)
	assert.Equal(t, uptodate.Run, status, "a changed action command must force a rerun even if run_once says otherwise")
}
