package taskstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTasks(n int) []*Task {
	out := make([]*Task, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &Task{ID: idFor(i), Title: "task", Status: StatusPending, Priority: PriorityMedium})
	}
	return out
}

func idFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "t-" + string(letters[i%len(letters)]) + string(rune('0'+i/len(letters)))
}

func TestMemoryStoreClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(seedTasks(50))

	seen := sync.Map{}
	var wg sync.WaitGroup
	var dupes int32
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := store.Claim(ctx, Filter{})
				require.NoError(t, err)
				if task == nil {
					return
				}
				if _, loaded := seen.LoadOrStore(task.ID, true); loaded {
					mu.Lock()
					dupes++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, dupes, "no task should be claimed twice")
}

func TestMemoryStoreRespectsDependencies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore([]*Task{
		{ID: "a", Status: StatusPending},
		{ID: "b", Status: StatusPending, DependsOn: []string{"a"}},
	})

	first, err := store.Claim(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, "a", first.ID)

	second, err := store.Claim(ctx, Filter{})
	require.NoError(t, err)
	assert.Nil(t, second, "b depends on a, which is still in-progress")

	require.NoError(t, store.MarkCompleted(ctx, "a", ""))

	third, err := store.Claim(ctx, Filter{})
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "b", third.ID)
}

func TestMemoryStoreLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore([]*Task{{ID: "a", Status: StatusPending}})

	task, err := store.Claim(ctx, Filter{})
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, store.MarkFailed(ctx, "a", assertErr{"boom"}))
	require.NoError(t, store.ResetToPending(ctx, "a"))

	snap := store.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusPending, snap[0].Status)
	assert.Equal(t, 1, snap[0].FailureCount)
	assert.Equal(t, "boom", snap[0].LastError)

	task, err = store.Claim(ctx, Filter{})
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, store.MarkQuarantined(ctx, "a", "exhausted retries"))

	snap = store.Snapshot()
	assert.Equal(t, StatusQuarantined, snap[0].Status)
}

func TestMemoryStoreResetAllInProgress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(seedTasks(3))
	for i := 0; i < 3; i++ {
		_, err := store.Claim(ctx, Filter{})
		require.NoError(t, err)
	}
	n, err := store.CountPending(ctx, Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.ResetAllInProgress(ctx))
	n, err = store.CountPending(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
