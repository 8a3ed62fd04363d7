package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// ValidateConfig validates configuration values and returns an error if any are invalid.
// This function should be called after viper has loaded the configuration.
func ValidateConfig() error {
	var errs []string

	if viper.IsSet("workers") {
		if w := viper.GetInt("workers"); w <= 0 {
			errs = append(errs, fmt.Sprintf("workers must be positive, got: %d", w))
		}
	}

	if viper.IsSet("task_timeout") {
		if d := viper.GetDuration("task_timeout"); d <= 0 {
			errs = append(errs, fmt.Sprintf("task_timeout must be positive, got: %v", d))
		}
	}

	if viper.IsSet("task_delay") {
		if d := viper.GetDuration("task_delay"); d < 0 {
			errs = append(errs, fmt.Sprintf("task_delay must not be negative, got: %v", d))
		}
	}

	if viper.IsSet("retry.max_retries") {
		if n := viper.GetInt("retry.max_retries"); n < 0 {
			errs = append(errs, fmt.Sprintf("retry.max_retries must not be negative, got: %d", n))
		}
	}

	if viper.IsSet("retry.budget_max") {
		if n := viper.GetInt("retry.budget_max"); n <= 0 {
			errs = append(errs, fmt.Sprintf("retry.budget_max must be positive, got: %d", n))
		}
	}

	if viper.IsSet("retry.multiplier") {
		if m := viper.GetFloat64("retry.multiplier"); m < 1.0 {
			errs = append(errs, fmt.Sprintf("retry.multiplier must be at least 1.0, got: %v", m))
		}
	}

	if viper.IsSet("circuit_breaker.threshold") {
		if n := viper.GetInt("circuit_breaker.threshold"); n <= 0 {
			errs = append(errs, fmt.Sprintf("circuit_breaker.threshold must be positive, got: %d", n))
		}
	}

	if viper.IsSet("circuit_breaker.max_self_healing_attempts") {
		if n := viper.GetInt("circuit_breaker.max_self_healing_attempts"); n < 0 {
			errs = append(errs, fmt.Sprintf("circuit_breaker.max_self_healing_attempts must not be negative, got: %d", n))
		}
	}

	if viper.IsSet("quarantine_threshold") {
		if n := viper.GetInt("quarantine_threshold"); n <= 0 {
			errs = append(errs, fmt.Sprintf("quarantine_threshold must be positive, got: %d", n))
		}
	}

	if viper.IsSet("metrics_port") {
		if p := viper.GetInt("metrics_port"); p < 1 || p > 65535 {
			errs = append(errs, fmt.Sprintf("metrics_port must be between 1 and 65535, got: %d", p))
		}
	}

	if viper.IsSet("agent.backend") {
		switch viper.GetString("agent.backend") {
		case "exec", "docker", "k8s":
		default:
			errs = append(errs, fmt.Sprintf("agent.backend must be one of exec, docker, k8s, got: %q", viper.GetString("agent.backend")))
		}
	}

	if viper.IsSet("store.kind") {
		switch viper.GetString("store.kind") {
		case "memory", "jsonfile", "sqlite", "postgres":
		default:
			errs = append(errs, fmt.Sprintf("store.kind must be one of memory, jsonfile, sqlite, postgres, got: %q", viper.GetString("store.kind")))
		}
	}

	if len(errs) > 0 {
		msg := errs[0]
		for i := 1; i < len(errs); i++ {
			msg += "\n  " + errs[i]
		}
		return fmt.Errorf("configuration validation failed:\n  %s", msg)
	}
	return nil
}

// ValidateAndExit validates the configuration and exits with a non-zero code if validation fails.
// This is a convenience function that prints errors to stderr and exits.
func ValidateAndExit() {
	if err := ValidateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
