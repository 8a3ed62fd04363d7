package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerQuarantinesAtThreshold(t *testing.T) {
	tr := NewTracker(3)

	assert.False(t, tr.Record("t-1", errors.New("boom")))
	assert.False(t, tr.Record("t-1", errors.New("boom")))
	assert.True(t, tr.Record("t-1", errors.New("boom")), "third failure should cross the threshold")
}

func TestTrackerHistoryIsBounded(t *testing.T) {
	tr := NewTracker(100)
	for i := 0; i < 15; i++ {
		tr.Record("t-1", errors.New("boom"))
	}
	assert.Len(t, tr.History("t-1"), failureHistoryLimit)
}

func TestTrackerHistoryIsPerTask(t *testing.T) {
	tr := NewTracker(3)
	tr.Record("t-1", errors.New("a"))
	tr.Record("t-2", errors.New("b"))
	require.Len(t, tr.History("t-1"), 1)
	require.Len(t, tr.History("t-2"), 1)
	assert.Equal(t, "a", tr.History("t-1")[0].Cause)
}

func TestTrackerClear(t *testing.T) {
	tr := NewTracker(3)
	tr.Record("t-1", errors.New("a"))
	tr.Clear("t-1")
	assert.Empty(t, tr.History("t-1"))
}
