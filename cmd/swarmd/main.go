package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "swarmd",
	Short: "Dependency-aware task queue and swarm orchestrator for AI agent jobs",
	Long: `swarmd - Swarm Orchestration CLI

Runs and inspects the persistent, dependency-aware task queue described in
swarmcore: accepts task submissions from humans and agents, computes a
priority ordering over the prerequisite DAG, and dispatches work with
bounded concurrency against an external agent executor.

Commands:
  swarm start    Run the orchestrator poll loop
  task enqueue   Submit a new task
  task list      List tasks matching filters
  task get       Show one task
  task cancel    Cancel a READY/BLOCKED task
  mem prune      Delete terminal-status tasks from the store`,
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "path to the SQLite database (overrides config/env)")
	rootCmd.PersistentFlags().String("config", "", "path to a config file")
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
