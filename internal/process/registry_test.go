package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddGetRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	reg, err := NewRegistry(path)
	require.NoError(t, err)

	rec := &Record{PID: 4242, TaskID: "t-1", Namespace: "default", Status: StatusRunning, StartedAt: time.Unix(0, 0), EnginePID: os.Getpid()}
	require.NoError(t, reg.Add(rec))

	got, ok := reg.Get(4242)
	require.True(t, ok)
	assert.Equal(t, "t-1", got.TaskID)

	require.NoError(t, reg.UpdateStatus(4242, StatusExited))
	got, _ = reg.Get(4242)
	assert.Equal(t, StatusExited, got.Status)

	require.NoError(t, reg.Remove(4242))
	_, ok = reg.Get(4242)
	assert.False(t, ok)
}

func TestRegistryPersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	reg, err := NewRegistry(path)
	require.NoError(t, err)
	require.NoError(t, reg.Add(&Record{PID: 1, TaskID: "a", Namespace: "ns1", Status: StatusRunning}))
	require.NoError(t, reg.Add(&Record{PID: 2, TaskID: "b", Namespace: "ns2", Status: StatusRunning}))

	reloaded, err := NewRegistry(path)
	require.NoError(t, err)
	assert.Len(t, reloaded.List(), 2)
	assert.Len(t, reloaded.ListByNamespace("ns1"), 1)
}

func TestIsRunningSelf(t *testing.T) {
	assert.True(t, IsRunning(os.Getpid()))
}

func TestIsRunningBogusPID(t *testing.T) {
	// A PID this large is virtually guaranteed unused on any real system.
	assert.False(t, IsRunning(1<<30))
}

func TestRegistryClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	reg, err := NewRegistry(path)
	require.NoError(t, err)
	require.NoError(t, reg.Add(&Record{PID: 1, Namespace: "ns"}))
	require.NoError(t, reg.Clear())
	assert.Empty(t, reg.List())
}
