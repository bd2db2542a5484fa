package blob

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_Open(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "toolkit.zip"), []byte("zip-bytes"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "book.pdf"), []byte("pdf"), 0o600))

	store, err := NewFS(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	b, err := store.Open(ctx, "toolkit.zip")
	require.NoError(t, err)
	data, err := io.ReadAll(b.Content)
	require.NoError(t, err)
	require.NoError(t, b.Content.Close())
	assert.Equal(t, "zip-bytes", string(data))
	assert.EqualValues(t, 9, b.Size)

	b, err = store.Open(ctx, "nested/book.pdf")
	require.NoError(t, err)
	require.NoError(t, b.Content.Close())

	_, err = store.Open(ctx, "missing.zip")
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = store.Open(ctx, "nested")
	require.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, store.Ping(ctx))
}

func TestFS_RejectsEscapes(t *testing.T) {
	parent := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("nope"), 0o600))
	dir := filepath.Join(parent, "files")
	require.NoError(t, os.Mkdir(dir, 0o700))

	store, err := NewFS(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Open(context.Background(), "../secret.txt")
	require.Error(t, err)

	_, err = store.Open(context.Background(), "/etc/passwd")
	require.Error(t, err)
}

func TestNewFS_MissingDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}
