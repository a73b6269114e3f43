package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAppendFileWritesAndSyncs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo.log")
	e := Default()

	f, err := e.CreateAppendFile(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	require.True(t, e.FileExists(path))
}

func TestRandomAccessFileReadsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.kvt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	e := Default()
	rf, err := e.CreateRandomAccessFile(path)
	require.NoError(t, err)
	defer rf.Close()

	buf := make([]byte, 4)
	n, err := rf.ReadAt(buf, 3)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "3456", string(buf))
}

func TestFileExistsAndDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.sst")
	e := Default()

	require.False(t, e.FileExists(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.True(t, e.FileExists(path))

	require.NoError(t, e.DeleteFile(path, false))
	require.False(t, e.FileExists(path))
}

func TestGetChildrenListsDirectory(t *testing.T) {
	dir := t.TempDir()
	e := Default()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.sst"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.sst"), nil, 0o644))

	children, err := e.GetChildren(dir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.sst", "b.sst"}, children)
}

func TestCreateDirAndGetFileSize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "child")
	e := Default()
	require.NoError(t, e.CreateDir(dir))
	require.True(t, e.FileExists(dir))

	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("abcde"), 0o644))
	size, err := e.GetFileSize(path)
	require.NoError(t, err)
	require.EqualValues(t, 5, size)
}

func TestRenameFile(t *testing.T) {
	dir := t.TempDir()
	e := Default()
	src := filepath.Join(dir, "old")
	dst := filepath.Join(dir, "new")
	require.NoError(t, os.WriteFile(src, []byte("v"), 0o644))

	require.NoError(t, e.RenameFile(src, dst))
	require.False(t, e.FileExists(src))
	require.True(t, e.FileExists(dst))
}

func TestLockFileRejectsSecondAcquisition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "LOCK")
	e := Default()

	lock, err := e.LockFile(path)
	require.NoError(t, err)
	defer e.UnlockFile(lock)

	// A second independent file descriptor on the same inode should be
	// rejected by the advisory lock (best-effort: skipped entirely on
	// platforms where flock/funlock degrade to a no-op).
	if _, err := e.LockFile(path); err == nil {
		t.Skip("advisory locking not enforced on this platform")
	}
}
