package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	defer func() {
		os.Remove("config.yaml")
		viper.Reset()
	}()

	t.Run("Default Config Generation", func(t *testing.T) {
		viper.Reset()
		os.Remove("config.yaml")

		Load("")

		assert.Equal(t, 4, viper.GetInt("workers"))
		assert.Equal(t, "exec", viper.GetString("agent.backend"))
		assert.Equal(t, "jsonfile", viper.GetString("store.kind"))
		assert.Equal(t, 5, viper.GetInt("circuit_breaker.threshold"))
		assert.Equal(t, 3, viper.GetInt("quarantine_threshold"))
	})

	t.Run("Load From Env", func(t *testing.T) {
		viper.Reset()
		os.Setenv("LOOPWORK_WORKERS", "9")
		defer os.Unsetenv("LOOPWORK_WORKERS")

		Load("")
		assert.Equal(t, 9, viper.GetInt("workers"))
	})

	t.Run("Slack Enabled When Bot Token Present", func(t *testing.T) {
		viper.Reset()
		os.Setenv("SLACK_BOT_USER_TOKEN", "xoxb-test")
		defer os.Unsetenv("SLACK_BOT_USER_TOKEN")

		Load("")
		assert.True(t, viper.GetBool("notifications.slack.enabled"))
	})
}
