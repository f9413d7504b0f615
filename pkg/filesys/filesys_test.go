package filesys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateDir_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "heap")
	require.NoError(t, CreateDir(dir, 0755, false))

	stat, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, stat.IsDir())
}

func TestCreateDir_WithoutForceFailsIfAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	require.Error(t, CreateDir(dir, 0755, false))
}

func TestCreateDir_WithForceAllowsExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateDir(dir, 0755, true))
}

func TestCreateDir_RejectsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.ErrorIs(t, CreateDir(path, 0755, true), ErrIsNotDir)
}

func TestReadDir_GlobsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.snapshot"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.snapshot"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), nil, 0644))

	matches, err := ReadDir(filepath.Join(dir, "*.snapshot"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
}
