package workspace

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestListPages_MatchesPatternRecursively(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "login.xhtml"), "<html/>")
	writeFile(t, filepath.Join(dir, "admin", "users.xhtml"), "<table/>")
	writeFile(t, filepath.Join(dir, "notes.txt"), "skip me")

	ws := New(dir, "*.xhtml")
	pages, err := ws.ListPages()
	require.NoError(t, err)

	require.Len(t, pages, 2)
	assert.Equal(t, "admin/users.xhtml", pages[0].Path)
	assert.Equal(t, "<table/>", pages[0].Content)
	assert.Equal(t, "login.xhtml", pages[1].Path)
}

func TestListPages_EmptyTree(t *testing.T) {
	ws := New(t.TempDir(), "*.xhtml")
	pages, err := ws.ListPages()
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestListPages_DefaultPattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "page.xhtml"), "x")

	ws := New(dir, "")
	pages, err := ws.ListPages()
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestWatcher_DebouncesMatchingChanges(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int32
	w, err := NewWatcher(zerolog.Nop(), "*.xhtml", func() {
		fired.Add(1)
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Watch(dir))

	writeFile(t, filepath.Join(dir, "a.xhtml"), "one")
	writeFile(t, filepath.Join(dir, "b.xhtml"), "two")
	writeFile(t, filepath.Join(dir, "ignored.txt"), "three")

	assert.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresNonMatching(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int32
	w, err := NewWatcher(zerolog.Nop(), "*.xhtml", func() {
		fired.Add(1)
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Watch(dir))
	writeFile(t, filepath.Join(dir, "readme.md"), "doc")

	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
