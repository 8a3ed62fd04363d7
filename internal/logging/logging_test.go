package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultLevel(t *testing.T) {
	logger := New(false, "")
	require.NotNil(t, logger)
	require.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewVerboseEnablesDebug(t *testing.T) {
	logger := New(true, "")
	require.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewFansOutToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopwork.log")
	logger := New(false, path)

	logger.Info("hello", "worker", 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
	require.Contains(t, string(data), "worker")
}
