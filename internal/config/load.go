package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load initializes the engine's configuration from file and
// environment variables. cfgFile, if non-empty, names an explicit
// config path; otherwise "./config.yaml" in the current directory is
// used if present.
func Load(cfgFile string) {
	if err := godotenv.Load(); err != nil {
		// No .env file is the common case; nothing to report.
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("LOOPWORK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Worker pool
	viper.SetDefault("workers", 4)
	viper.SetDefault("task_delay", "1s")
	viper.SetDefault("task_timeout", "300s")
	viper.SetDefault("parallel_failure_mode", "continue") // or "abort-all"

	// Retry / backoff
	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.budget_max", 10)
	viper.SetDefault("retry.budget_window", "10m")
	viper.SetDefault("retry.initial_delay", "1s")
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.max_delay", "60s")
	viper.SetDefault("retry.jitter", true)

	// Circuit breaker / self-healer
	viper.SetDefault("circuit_breaker.threshold", 5)
	viper.SetDefault("circuit_breaker.self_healing_cooldown", "30s")
	viper.SetDefault("circuit_breaker.max_self_healing_attempts", 3)
	viper.SetDefault("quarantine_threshold", 3)

	// Orphan detection / checkpointing / locking
	viper.SetDefault("orphan.scan_interval", "5m")
	viper.SetDefault("orphan.kill_grace_period", "10s")
	viper.SetDefault("checkpoint.interval", 10)
	viper.SetDefault("state_dir", ".loopwork")

	// TaskStore backend
	viper.SetDefault("store.kind", "jsonfile") // memory | jsonfile | sqlite | postgres
	viper.SetDefault("store.dsn", ".loopwork/tasks.json")

	// AgentRunner backend
	viper.SetDefault("agent.backend", "exec") // exec | docker | k8s
	viper.SetDefault("agent.binary", "agent")
	viper.SetDefault("agent.models", []string{"default"})
	viper.SetDefault("agent.docker_image", "")
	viper.SetDefault("agent.k8s_namespace", "default")

	viper.SetDefault("metrics_port", 2112)
	viper.SetDefault("verbose", false)

	// Notification defaults
	slackEnabled := os.Getenv("SLACK_BOT_USER_TOKEN") != ""
	viper.SetDefault("notifications.slack.enabled", slackEnabled)
	viper.SetDefault("notifications.slack.channel", "#general")
	viper.SetDefault("notifications.slack.events.on_task_start", true)
	viper.SetDefault("notifications.slack.events.on_task_complete", true)
	viper.SetDefault("notifications.slack.events.on_task_failed", true)
	viper.SetDefault("notifications.slack.events.on_task_retry", false)
	viper.SetDefault("notifications.slack.events.on_task_abort", true)
	viper.SetDefault("notifications.slack.events.on_worker_status", false)

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if err := viper.SafeWriteConfig(); err != nil {
			if _, statErr := os.Stat("config.yaml"); os.IsNotExist(statErr) {
				if err := viper.WriteConfigAs("config.yaml"); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to create default config file: %v\n", err)
				} else {
					fmt.Println("Created default configuration file: config.yaml")
				}
			}
		} else {
			fmt.Println("Created default configuration file: config.yaml")
		}
	}
}
