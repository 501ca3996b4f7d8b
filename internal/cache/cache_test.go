package cache

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()

	m, err := New(t.TempDir(), ttl, nil)
	require.NoError(t, err)

	return m
}

func TestNewCreatesDirectories(t *testing.T) {
	m := newTestManager(t, time.Hour)

	for _, sub := range []string{"generated", "staging"} {
		info, err := os.Stat(filepath.Join(m.Root(), sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestCreateAndOpenRoundTrip(t *testing.T) {
	m := newTestManager(t, time.Hour)

	w, rel, err := m.Create("archive.zip")
	require.NoError(t, err)

	_, err = w.Write([]byte("artifact bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.True(t, strings.HasPrefix(rel, "generated/"))
	assert.True(t, strings.HasSuffix(rel, "/archive.zip"))

	f, info, err := m.Open(rel)
	require.NoError(t, err)
	defer f.Close()

	assert.EqualValues(t, 14, info.Size())

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "artifact bytes", string(data))
}

func TestCreateIsolatesSameName(t *testing.T) {
	m := newTestManager(t, time.Hour)

	w1, rel1, err := m.Create("a.zip")
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, rel2, err := m.Create("a.zip")
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	assert.NotEqual(t, rel1, rel2)
}

func TestOpenRejectsTraversal(t *testing.T) {
	m := newTestManager(t, time.Hour)

	secret := filepath.Join(filepath.Dir(m.Root()), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("keep out"), 0o644))
	defer os.Remove(secret)

	_, _, err := m.Open("generated/../../secret.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadRequest)
}

func TestOpenMissingEntry(t *testing.T) {
	m := newTestManager(t, time.Hour)

	_, _, err := m.Open("generated/nope/gone.zip")
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestStage(t *testing.T) {
	m := newTestManager(t, time.Hour)

	path, n, err := m.Stage(strings.NewReader("uploaded content"))
	require.NoError(t, err)
	defer os.Remove(path)

	assert.EqualValues(t, 16, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "uploaded content", string(data))

	assert.True(t, strings.HasPrefix(path, filepath.Join(m.Root(), "staging")))
}

func TestScratchDirIsFresh(t *testing.T) {
	m := newTestManager(t, time.Hour)

	d1, err := m.ScratchDir()
	require.NoError(t, err)

	d2, err := m.ScratchDir()
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)

	for _, d := range []string{d1, d2} {
		entries, err := os.ReadDir(d)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestSweepExpiresOldEntries(t *testing.T) {
	m := newTestManager(t, time.Minute)

	w, rel, err := m.Create("old.zip")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Age the entry directory past the TTL.
	entryDir := filepath.Join(m.Root(), filepath.Dir(filepath.FromSlash(rel)))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(entryDir, old, old))

	m.sweep()

	_, _, err = m.Open(rel)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	m := newTestManager(t, time.Hour)

	w, rel, err := m.Create("fresh.zip")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	m.sweep()

	f, _, err := m.Open(rel)
	require.NoError(t, err)
	f.Close()
}

func TestZeroTTLDisablesExpiry(t *testing.T) {
	m := newTestManager(t, 0)

	w, rel, err := m.Create("kept.zip")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entryDir := filepath.Join(m.Root(), filepath.Dir(filepath.FromSlash(rel)))
	old := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(entryDir, old, old))

	m.sweep()

	f, _, err := m.Open(rel)
	require.NoError(t, err)
	f.Close()
}
