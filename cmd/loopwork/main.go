// Command loopwork wires configuration, a TaskStore backend, an
// AgentRunner backend, and the coordinator into a runnable automation
// loop. It is deliberately thin: per spec.md's Non-goals on "CLI
// surface", the loop's actual behavior lives in internal/coordinator
// and its collaborators, not here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nadimtuhin/loopwork/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "loopwork",
	Short: "loopwork runs an automation loop over a pluggable task store",
	Long: `loopwork claims tasks from a pending store, spawns an external
agent for each, and records success or failure back to the store. It
runs N workers concurrently, retries failures with backoff under a
global budget, quarantines tasks that fail too often, and self-heals
by adjusting concurrency/timeouts when failures cluster in a
recognizable pattern.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	flags.String("root", ".", "project root directory (holds .loopwork/ state)")
	flags.String("namespace", "default", "checkpoint/registry namespace for this run")
	flags.Bool("resume", false, "resume from the last checkpoint for this namespace")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.String("log-file", "", "additional file to mirror logs to, beyond stdout")
	flags.Int("workers", 0, "worker count override (0 = use config)")
	flags.String("store", "", "task store backend override: memory|jsonfile|sqlite|postgres")
	flags.String("agent-backend", "", "agent runner backend override: exec|docker|k8s")

	bindOrPanic(flags, "root")
	bindOrPanic(flags, "namespace")
	bindOrPanic(flags, "resume")
	bindOrPanic(flags, "verbose")
	bindOrPanic(flags, "log-file")
	bindOrPanic(flags, "workers")
	bindOrPanic(flags, "agent-backend")
	// --store overrides store.kind; binding it under "store" itself would
	// shadow the nested store.* keys.
	if err := viper.BindPFlag("store.kind", flags.Lookup("store")); err != nil {
		panic(fmt.Sprintf("loopwork: bind flag store: %v", err))
	}

	cobra.OnInitialize(func() {
		config.Load(cfgFile)
		config.ValidateAndExit()
	})
}

func bindOrPanic(flags *pflag.FlagSet, name string) {
	if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
		panic(fmt.Sprintf("loopwork: bind flag %s: %v", name, err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
