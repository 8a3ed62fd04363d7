package circuit

import (
	"testing"
	"time"

	loopworkerrors "github.com/nadimtuhin/loopwork/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(time.Duration) {}

func TestClassifyMatchesEachCategory(t *testing.T) {
	assert.Equal(t, CategoryRateLimit, Classify("received 429 from provider"))
	assert.Equal(t, CategoryRateLimit, Classify("Rate limit exceeded"))
	assert.Equal(t, CategoryTimeout, Classify("context deadline exceeded: ETIMEDOUT"))
	assert.Equal(t, CategoryMemory, Classify("fatal error: out of memory"))
	assert.Equal(t, CategoryCLICache, Classify("ENOENT reading from cache dir"))
	assert.Equal(t, CategoryCLICache, Classify("cache corruption detected"))
	assert.Equal(t, CategoryUnknown, Classify("connection reset by peer"))
}

func TestHealerRateLimitHalvesWorkersAndDoublesDelay(t *testing.T) {
	h := NewHealer(30*time.Second, 3)
	h.Sleep = noSleep

	events := repeat("429 too many requests", 10)
	next, err := h.Heal(events, Tuning{Workers: 8, TaskDelay: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 4, next.Workers)
	assert.Equal(t, 10*time.Second, next.TaskDelay)
}

func TestHealerTaskDelayCapsAt30Seconds(t *testing.T) {
	h := NewHealer(30*time.Second, 3)
	h.Sleep = noSleep
	next, err := h.Heal(repeat("429", 10), Tuning{Workers: 2, TaskDelay: 20 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, next.TaskDelay)
}

func TestHealerTimeoutMultipliesBy1Point5(t *testing.T) {
	h := NewHealer(30*time.Second, 3)
	h.Sleep = noSleep
	next, err := h.Heal(repeat("request timed out", 10), Tuning{Timeout: 100 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 150*time.Second, next.Timeout)
}

func TestHealerMemoryHalvesWorkersOnly(t *testing.T) {
	h := NewHealer(30*time.Second, 3)
	h.Sleep = noSleep
	next, err := h.Heal(repeat("process killed: oom", 10), Tuning{Workers: 6, TaskDelay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, next.Workers)
	assert.Equal(t, time.Second, next.TaskDelay)
}

func TestHealerCLICacheSetsClearCacheOnly(t *testing.T) {
	h := NewHealer(30*time.Second, 3)
	h.Sleep = noSleep
	next, err := h.Heal(repeat("ENOENT opening cache file", 10), Tuning{Workers: 4})
	require.NoError(t, err)
	assert.True(t, next.ClearCache)
	assert.Equal(t, 4, next.Workers)
}

func TestHealerUnknownDecrementsWorkersAndAddsDelay(t *testing.T) {
	h := NewHealer(30*time.Second, 3)
	h.Sleep = noSleep
	next, err := h.Heal(repeat("connection reset", 10), Tuning{Workers: 4, TaskDelay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, next.Workers)
	assert.Equal(t, 3*time.Second, next.TaskDelay)
}

func TestHealerWorkersNeverDropBelowOne(t *testing.T) {
	h := NewHealer(30*time.Second, 3)
	h.Sleep = noSleep
	next, err := h.Heal(repeat("oom", 10), Tuning{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, next.Workers)
}

func TestHealerExhaustionReturnsErrTaskInvalid(t *testing.T) {
	h := NewHealer(time.Millisecond, 2)
	h.Sleep = noSleep
	_, err := h.Heal(repeat("oom", 10), Tuning{Workers: 4})
	require.NoError(t, err)
	_, err = h.Heal(repeat("oom", 10), Tuning{Workers: 4})
	require.NoError(t, err)
	_, err = h.Heal(repeat("oom", 10), Tuning{Workers: 4})
	require.ErrorIs(t, err, loopworkerrors.ErrTaskInvalid)
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}
