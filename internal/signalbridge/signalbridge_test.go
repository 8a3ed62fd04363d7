package signalbridge

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeCancelsOnFirstSignal(t *testing.T) {
	b := New(context.Background())
	var calls int32
	b.OnInterrupt(func() { calls++ })
	b.Start()
	defer b.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-b.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled after SIGINT")
	}
	assert.Equal(t, int32(1), calls)
}

func TestBridgeHandlerRunsOnlyOnce(t *testing.T) {
	b := New(context.Background())
	var calls int32
	done := make(chan struct{})
	b.OnInterrupt(func() {
		calls++
		close(done)
	})
	b.Start()
	defer b.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
	<-done
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), calls)
}
