package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
}

func TestPutObjectWritesFileAndReturnsURI(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "alice/job1.zip", "application/zip", strings.NewReader("zip-bytes"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(base, "alice", "job1.zip"), uri)

	data, err := os.ReadFile(filepath.Join(base, "alice", "job1.zip"))
	require.NoError(t, err)
	require.Equal(t, "zip-bytes", string(data))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.zip", "application/zip", strings.NewReader("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "application/zip", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectOverwrites(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.zip", "application/zip", strings.NewReader("first"))
	require.NoError(t, err)
	uri, err := store.PutObject(context.Background(), "a.zip", "application/zip", strings.NewReader("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(strings.TrimPrefix(uri, "file://"))
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}
