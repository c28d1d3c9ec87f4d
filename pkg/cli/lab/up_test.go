package lab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r11/hyperv-commander/internal/state"
	labpkg "github.com/r11/hyperv-commander/pkg/lab"
)

func openTempStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveLabHeaderPreservesCreation(t *testing.T) {
	store := openTempStore(t)
	m := &labpkg.Manifest{Name: "lab1", Domain: labpkg.Domain{FQDN: "lab.local"}}

	require.NoError(t, saveLabHeader(store, m, "run-1", "hash-a"))
	first, err := store.GetLab("lab1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "run-1", first.LastRunID)
	assert.Equal(t, "hash-a", first.ConfigHash)
	assert.False(t, first.CreatedAt.IsZero())

	require.NoError(t, saveLabHeader(store, m, "run-2", "hash-b"))
	second, err := store.GetLab("lab1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "run-2", second.LastRunID)
	assert.Equal(t, "hash-b", second.ConfigHash)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "a rerun must not reset the creation time")
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func TestManifestHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: lab1\n"), 0o644))

	a, err := manifestHash(path)
	require.NoError(t, err)
	b, err := manifestHash(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.NoError(t, os.WriteFile(path, []byte("name: lab2\n"), 0o644))
	c, err := manifestHash(path)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = manifestHash(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
