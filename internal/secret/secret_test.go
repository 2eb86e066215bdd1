package secret

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "credential")
	s := NewFileStore(path)

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set([]byte("api-key-123")))

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("api-key-123"), got)

	require.NoError(t, s.Delete())
	_, err = s.Get()
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op
	assert.NoError(t, s.Delete())
}

func TestFileStorePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes not meaningful on windows")
	}
	path := filepath.Join(t.TempDir(), "credential")
	s := NewFileStore(path)
	require.NoError(t, s.Set([]byte("secret")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStoreOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential")
	s := NewFileStore(path)

	require.NoError(t, s.Set([]byte("old")))
	require.NoError(t, s.Set([]byte("new")))

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}
