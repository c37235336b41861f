package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.json"), []byte(`{"url":"https://example.com"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "nested", "b.json"), []byte(`{"url":"https://example.org"}`), 0o600))
}

func TestZipAndVerifyArchivesAndRemovesDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "job-1")
	writeTree(t, dir)

	archivePath, hash, err := ZipAndVerify(dir)
	require.NoError(t, err)
	require.Equal(t, dir+".zip", archivePath)
	require.Len(t, hash, 64)

	_, statErr := os.Stat(dir)
	require.True(t, os.IsNotExist(statErr), "source directory should be reclaimed")

	r, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	require.ElementsMatch(t, []string{"a.json", "nested/b.json"}, names)
}

func TestZipAndVerifyMissingDirFailsFast(t *testing.T) {
	t.Parallel()

	archivePath, hash, err := ZipAndVerify(filepath.Join(t.TempDir(), "vanished"))
	require.Error(t, err)
	require.Empty(t, archivePath)
	require.Empty(t, hash)
}

func TestHashIsStableOnIdenticalContent(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	first := filepath.Join(base, "job-a")
	second := filepath.Join(base, "job-b")
	writeTree(t, first)
	writeTree(t, second)

	// Pin mtimes so the two archives are byte-identical.
	stamp := filepath.Join(base, "stamp")
	require.NoError(t, os.WriteFile(stamp, nil, 0o600))
	info, err := os.Stat(stamp)
	require.NoError(t, err)
	for _, dir := range []string{first, second} {
		require.NoError(t, filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			return os.Chtimes(path, info.ModTime(), info.ModTime())
		}))
	}

	_, hashA, err := ZipAndVerify(first)
	require.NoError(t, err)
	_, hashB, err := ZipAndVerify(second)
	require.NoError(t, err)
	require.Equal(t, hashA, hashB)
}

func TestHashDetectsCorruption(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "job-c")
	writeTree(t, dir)
	archivePath, original, err := ZipAndVerify(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(archivePath, data, 0o600))

	corrupted, err := HashFile(archivePath)
	require.NoError(t, err)
	require.NotEqual(t, original, corrupted)
}
