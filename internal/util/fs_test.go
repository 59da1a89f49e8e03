package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDirExist(t *testing.T) {
	base := t.TempDir()

	nested := filepath.Join(base, "a", "b", "c")
	require.NoError(t, EnsureDirExist(nested))
	info, err := os.Stat(nested)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// Re-running against an existing directory is a no-op.
	require.NoError(t, EnsureDirExist(nested))

	file := filepath.Join(base, "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	require.Error(t, EnsureDirExist(file))
}

func TestRemoveFileIfExists(t *testing.T) {
	base := t.TempDir()

	file := filepath.Join(base, "stale")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	require.NoError(t, RemoveFileIfExists(file))
	require.False(t, Exists(file))

	// Missing file is not an error.
	require.NoError(t, RemoveFileIfExists(file))
}

func TestVerifyFileDoesNotExist(t *testing.T) {
	base := t.TempDir()

	path := filepath.Join(base, "sub", "core.sock")
	require.NoError(t, VerifyFileDoesNotExist(path))
	require.True(t, Exists(filepath.Dir(path)))
	require.False(t, Exists(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, VerifyFileDoesNotExist(path))
	require.False(t, Exists(path))
}

func TestStdoutKey(t *testing.T) {
	a := StdoutKey(42)
	b := StdoutKey(42)

	require.Contains(t, a, "jobs/42/stdout/")
	require.Contains(t, a, ".log")
	// Reruns of the same job must not collide.
	require.NotEqual(t, a, b)
}
