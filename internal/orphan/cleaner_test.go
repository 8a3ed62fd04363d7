package orphan

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadimtuhin/loopwork/internal/process"
)

func TestCleanerReapsLiveProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	defer cmd.Process.Kill()
	// Reap the child when it exits, as its real parent would, so the
	// signal-0 probe does not see a lingering zombie.
	go func() { _ = cmd.Wait() }()

	regPath := filepath.Join(t.TempDir(), "registry.json")
	reg, err := process.NewRegistry(regPath)
	require.NoError(t, err)
	require.NoError(t, reg.Add(&process.Record{PID: pid, TaskID: "t-1", Status: process.StatusRunning, StartedAt: time.Now()}))

	cleaner := NewCleaner(reg, 2*time.Second, nil)
	require.NoError(t, cleaner.Reap(reg.List()))

	assert.False(t, process.IsRunning(pid))
	_, ok := reg.Get(pid)
	assert.False(t, ok, "reaped record should be removed from the registry")
}

func TestCleanerHandlesAlreadyExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	pid := cmd.Process.Pid

	regPath := filepath.Join(t.TempDir(), "registry.json")
	reg, err := process.NewRegistry(regPath)
	require.NoError(t, err)
	require.NoError(t, reg.Add(&process.Record{PID: pid, Status: process.StatusRunning, StartedAt: time.Now()}))

	cleaner := NewCleaner(reg, 100*time.Millisecond, nil)
	require.NoError(t, cleaner.Reap(reg.List()))
	_, ok := reg.Get(pid)
	assert.False(t, ok)
}
