package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	s.Save("default", []string{"t-1", "t-2"})

	loaded, err := s.Load("default")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.ElementsMatch(t, []string{"t-1", "t-2"}, loaded.InterruptedTasks)
}

func TestStoreNamespacesAreIsolated(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	s.Save("ns-a", []string{"a-1"})
	s.Save("ns-b", []string{"b-1"})

	a, err := s.Load("ns-a")
	require.NoError(t, err)
	b, err := s.Load("ns-b")
	require.NoError(t, err)

	assert.Equal(t, []string{"a-1"}, a.InterruptedTasks)
	assert.Equal(t, []string{"b-1"}, b.InterruptedTasks)
}

func TestStoreLoadMissingReturnsNil(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	loaded, err := s.Load("never-saved")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
