package rag

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStore_RoundTrip(t *testing.T) {
	store := NewStatusStore(filepath.Join(t.TempDir(), "status"))

	missing, err := store.Read(7)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Write(7, "running", "indexing", "chunking", 0.6))
	status, err := store.Read(7)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, uint(7), status.DocumentID)
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "indexing", status.Stage)
	assert.Equal(t, 0.6, status.Progress)
	assert.NotEmpty(t, status.UpdatedAt)

	require.NoError(t, store.Clear(7))
	cleared, err := store.Read(7)
	require.NoError(t, err)
	assert.Nil(t, cleared)

	require.NoError(t, store.Clear(7))
}
