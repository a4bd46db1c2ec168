package depstore_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/depstore"
	"taskforge/internal/task"
)

func TestCheckModifiedShortCircuitsOnUnchangedTimestamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	fp, err := depstore.FingerprintFile(path)
	require.NoError(t, err)

	// Corrupt the recorded MD5 without touching the file: since mtime is
	// unchanged, CheckModified must still report unchanged without ever
	// recomputing the digest.
	stale := fp
	stale.MD5 = "not-the-real-digest"

	changed, current, err := depstore.CheckModified(path, stale)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, stale, current)
}

func TestCheckModifiedDetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	fp, err := depstore.FingerprintFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("v2, a different length"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	changed, current, err := depstore.CheckModified(path, fp)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, fp.MD5, current.MD5)
}

func TestSaveSuccessAndValuesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := depstore.OpenJSON(filepath.Join(dir, "db.json"))
	require.NoError(t, err)
	store := depstore.New(backend)

	tk := &task.Task{
		Name:   "build",
		Values: map[string]any{"version": "1.0"},
	}
	require.NoError(t, store.SaveSuccess(tk))

	got := store.Values("build")
	assert.Equal(t, "1.0", got["version"])

	v, ok := store.Value("build", "version")
	require.True(t, ok)
	assert.Equal(t, "1.0", v)
}

func TestJSONBackendPersistsAcrossClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.json")

	backend, err := depstore.OpenJSON(path)
	require.NoError(t, err)
	store := depstore.New(backend)
	store.Ignore("flaky")
	require.NoError(t, store.Close())

	backend2, err := depstore.OpenJSON(path)
	require.NoError(t, err)
	store2 := depstore.New(backend2)
	assert.True(t, store2.StatusIsIgnore("flaky"))
}

func TestRemoveAllClearsEverything(t *testing.T) {
	dir := t.TempDir()
	backend, err := depstore.OpenJSON(filepath.Join(dir, "db.json"))
	require.NoError(t, err)
	store := depstore.New(backend)

	store.Ignore("a")
	store.RemoveAll()
	assert.False(t, store.StatusIsIgnore("a"))
}
