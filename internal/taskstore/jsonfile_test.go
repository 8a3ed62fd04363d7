package taskstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.json")

	store, err := NewJSONFileStore(path)
	require.NoError(t, err)

	store.mem = NewMemoryStore([]*Task{{ID: "a", Title: "first", Status: StatusPending}})
	require.NoError(t, store.persist())

	reopened, err := NewJSONFileStore(path)
	require.NoError(t, err)
	snap := reopened.mem.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "first", snap[0].Title)
}

func TestJSONFileStoreMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	store, err := NewJSONFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, store.mem.Snapshot())
}

func TestJSONFileStoreClaimPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewJSONFileStore(path)
	require.NoError(t, err)
	store.mem = NewMemoryStore([]*Task{{ID: "a", Status: StatusPending}})
	require.NoError(t, store.persist())

	task, err := store.Claim(ctx, Filter{})
	require.NoError(t, err)
	require.NotNil(t, task)

	reopened, err := NewJSONFileStore(path)
	require.NoError(t, err)
	snap := reopened.mem.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusInProgress, snap[0].Status)
}
