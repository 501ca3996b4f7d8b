package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

func newTestProvider(t *testing.T) (*Provider, string) {
	t.Helper()

	base := t.TempDir()

	p, err := New(base, nil)
	require.NoError(t, err)

	return p, base
}

// stageUpload writes content to a throwaway file and describes it the way
// the HTTP layer would.
func stageUpload(t *testing.T, name, content string) *provider.Upload {
	t.Helper()

	staged := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.WriteFile(staged, []byte(content), 0o644))

	return &provider.Upload{
		Path:     staged,
		Name:     name,
		MimeType: "text/plain",
		Size:     int64(len(content)),
	}
}

func TestList(t *testing.T) {
	p, base := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(base, "docs", "archive"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "docs", "a.txt"), []byte("twenty-three bytes here"), 0o644))

	result, err := p.List(ctx, "/docs", provider.ListOptions{}, provider.Credentials{})
	require.NoError(t, err)
	require.Len(t, result.Resources, 2)

	byName := map[string]provider.Resource{}
	for _, r := range result.Resources {
		byName[r.Name] = r
	}

	file := byName["a.txt"]
	assert.Equal(t, "/docs/a.txt", file.Path)
	assert.Equal(t, provider.KindFile, file.Kind)
	assert.Equal(t, ProviderID, file.Provider)
	assert.EqualValues(t, 23, file.Size)
	assert.Equal(t, "text/plain; charset=utf-8", file.MimeType)
	assert.Empty(t, file.CreatedAtTime)
	assert.NotEmpty(t, file.LastModifiedTime)
	assert.Contains(t, file.ContentURI, "file://")

	folder := byName["archive"]
	assert.Equal(t, provider.KindFolder, folder.Kind)
	assert.EqualValues(t, provider.SizeUnknown, folder.Size)
	assert.Equal(t, "inode/directory", folder.MimeType)
}

func TestListMissingFolder(t *testing.T) {
	p, _ := newTestProvider(t)

	_, err := p.List(context.Background(), "/nope", provider.ListOptions{}, provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestListEmptyFolderIsEmptyList(t *testing.T) {
	p, base := newTestProvider(t)

	require.NoError(t, os.MkdirAll(filepath.Join(base, "empty"), 0o755))

	result, err := p.List(context.Background(), "/empty", provider.ListOptions{}, provider.Credentials{})
	require.NoError(t, err)
	assert.Empty(t, result.Resources)
}

func TestCreateThenRead(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	created, err := p.Create(ctx, "/docs/new", "hello.txt", stageUpload(t, "hello.txt", "hello"), provider.Credentials{})
	require.NoError(t, err)

	assert.Equal(t, "hello.txt", created.Name)
	assert.Equal(t, "/docs/new/hello.txt", created.Path)
	assert.EqualValues(t, 5, created.Size)

	got, err := p.Read(ctx, "/docs/new", "hello.txt", provider.ListOptions{}, provider.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, created.Path, got.Path)
}

func TestCreateConflict(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := p.Create(ctx, "/", "a.txt", stageUpload(t, "a.txt", "x"), provider.Credentials{})
	require.NoError(t, err)

	_, err = p.Create(ctx, "/", "a.txt", stageUpload(t, "a.txt", "y"), provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrFileExists)
}

func TestCreateWithoutPayload(t *testing.T) {
	p, _ := newTestProvider(t)

	_, err := p.Create(context.Background(), "/", "a.txt", nil, provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrMissingParameter)
}

func TestUpdate(t *testing.T) {
	p, base := newTestProvider(t)
	ctx := context.Background()

	_, err := p.Create(ctx, "/docs", "a.txt", stageUpload(t, "a.txt", "old"), provider.Credentials{})
	require.NoError(t, err)

	t.Run("content replacement", func(t *testing.T) {
		got, err := p.Update(ctx, "/docs", "a.txt", provider.UpdateBody{}, stageUpload(t, "a.txt", "newer"), provider.Credentials{})
		require.NoError(t, err)
		assert.EqualValues(t, 5, got.Size)

		data, err := os.ReadFile(filepath.Join(base, "docs", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "newer", string(data))
	})

	t.Run("rename then move", func(t *testing.T) {
		got, err := p.Update(ctx, "/docs", "a.txt",
			provider.UpdateBody{Name: "b.txt", Path: "/moved"}, nil, provider.Credentials{})
		require.NoError(t, err)

		assert.Equal(t, "b.txt", got.Name)
		assert.Equal(t, "/moved/b.txt", got.Path)

		_, err = os.Stat(filepath.Join(base, "moved", "b.txt"))
		assert.NoError(t, err)
	})

	t.Run("timestamp", func(t *testing.T) {
		when := "2021-06-01T12:00:00Z"

		got, err := p.Update(ctx, "/moved", "b.txt",
			provider.UpdateBody{LastModifiedTime: when}, nil, provider.Credentials{})
		require.NoError(t, err)
		assert.Equal(t, when, got.LastModifiedTime)
	})

	t.Run("createdAtTime is a no-op", func(t *testing.T) {
		got, err := p.Update(ctx, "/moved", "b.txt",
			provider.UpdateBody{CreatedAtTime: "2020-01-01T00:00:00Z"}, nil, provider.Credentials{})
		require.NoError(t, err)
		assert.Empty(t, got.CreatedAtTime)
	})

	t.Run("nothing to update", func(t *testing.T) {
		_, err := p.Update(ctx, "/moved", "b.txt", provider.UpdateBody{}, nil, provider.Credentials{})
		require.Error(t, err)
		assert.ErrorIs(t, err, provider.ErrMissingParameter)
	})

	t.Run("bad timestamp format", func(t *testing.T) {
		_, err := p.Update(ctx, "/moved", "b.txt",
			provider.UpdateBody{LastModifiedTime: "last tuesday"}, nil, provider.Credentials{})
		require.Error(t, err)
		assert.ErrorIs(t, err, provider.ErrBadRequest)
	})
}

func TestDelete(t *testing.T) {
	p, base := newTestProvider(t)
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		_, err := p.Create(ctx, "/docs", "a.txt", stageUpload(t, "a.txt", "x"), provider.Credentials{})
		require.NoError(t, err)

		require.NoError(t, p.Delete(ctx, "/docs", "a.txt", provider.Credentials{}))

		_, err = os.Stat(filepath.Join(base, "docs", "a.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("folder is recursive", func(t *testing.T) {
		_, err := p.Create(ctx, "/tree/deep", "leaf.txt", stageUpload(t, "leaf.txt", "x"), provider.Credentials{})
		require.NoError(t, err)

		require.NoError(t, p.Delete(ctx, "/tree", "", provider.Credentials{}))

		_, err = os.Stat(filepath.Join(base, "tree"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("nothing resolvable", func(t *testing.T) {
		err := p.Delete(ctx, "/ghost", "none.txt", provider.Credentials{})
		require.Error(t, err)
		assert.ErrorIs(t, err, provider.ErrBadRequest)
	})
}

func TestDeleteRootRefused(t *testing.T) {
	p, base := newTestProvider(t)
	ctx := context.Background()

	_, err := p.Create(ctx, "/", "a.txt", stageUpload(t, "a.txt", "x"), provider.Credentials{})
	require.NoError(t, err)

	err = p.Delete(ctx, "/", "", provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadRequest)

	// The base directory and its contents survive, so the root keeps
	// listing cleanly.
	_, err = os.Stat(filepath.Join(base, "a.txt"))
	require.NoError(t, err)

	result, err := p.List(ctx, "/", provider.ListOptions{}, provider.Credentials{})
	require.NoError(t, err)
	assert.Len(t, result.Resources, 1)
}

func TestTraversalRejectedBeforeIO(t *testing.T) {
	p, base := newTestProvider(t)
	ctx := context.Background()

	secret := filepath.Join(filepath.Dir(base), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("keep out"), 0o644))
	defer os.Remove(secret)

	_, err := p.List(ctx, "/docs/../..", provider.ListOptions{}, provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadRequest)

	_, err = p.Read(ctx, "/..", "secret.txt", provider.ListOptions{}, provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadRequest)

	err = p.Delete(ctx, "/..", "secret.txt", provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadRequest)

	_, statErr := os.Stat(secret)
	assert.NoError(t, statErr, "the file outside the base path must be untouched")
}

func TestUpdateCannotMoveOutsideBase(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := p.Create(ctx, "/docs", "a.txt", stageUpload(t, "a.txt", "x"), provider.Credentials{})
	require.NoError(t, err)

	_, err = p.Update(ctx, "/docs", "a.txt",
		provider.UpdateBody{Path: "/../outside"}, nil, provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadRequest)
}

func TestReadMissingFile(t *testing.T) {
	p, _ := newTestProvider(t)

	_, err := p.Read(context.Background(), "/", "ghost.txt", provider.ListOptions{}, provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestListAppliesFilterAndSort(t *testing.T) {
	p, base := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(base, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "docs", "small.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "docs", "large.txt"), make([]byte, 4096), 0o644))

	result, err := p.List(ctx, "/docs", provider.ListOptions{
		CompareWith: "size",
		Operator:    provider.OpGreater,
		Value:       "100",
	}, provider.Credentials{})
	require.NoError(t, err)

	require.Len(t, result.Resources, 1)
	assert.Equal(t, "large.txt", result.Resources[0].Name)
}
