package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abathur-swarm/swarmcore/internal/executor"
	"github.com/abathur-swarm/swarmcore/internal/orchestrator"
)

var swarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Run or inspect the swarm orchestrator",
}

var swarmStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the orchestrator poll loop until shutdown or queue empty",
	Long: `Runs the orchestrator poll loop: dispatches READY tasks to the
configured agent executor with bounded concurrency until interrupted
(SIGINT/SIGTERM), the queue is empty with no workers in flight for three
consecutive polls, or --task-limit tasks have completed.`,
	RunE: runSwarmStart,
}

func init() {
	swarmStartCmd.Flags().Int("max-agents", 0, "override max_concurrent_agents (0 = use config)")
	swarmStartCmd.Flags().Int("task-limit", 0, "stop once at least this many tasks have completed (0 = unbounded)")
	swarmStartCmd.Flags().Bool("no-mcp", false, "disable the MCP server surface (accepted for CLI parity; swarmcore itself never starts one)")
	swarmCmd.AddCommand(swarmStartCmd)
	rootCmd.AddCommand(swarmCmd)
}

func runSwarmStart(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	lock, err := acquireLock(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer lock.Release()

	maxAgents, _ := cmd.Flags().GetInt("max-agents")
	if maxAgents <= 0 {
		maxAgents = a.cfg.MaxConcurrentAgents
	}

	agentExec := &executor.CommandExecutor{Command: a.cfg.AgentExecutorCommand}
	orch := orchestrator.New(a.queue, agentExec, maxAgents, nil, a.log, a.m, orchestrator.WithPollInterval(a.cfg.PollInterval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		orch.Shutdown()
	}()

	var taskLimit *int
	if n, _ := cmd.Flags().GetInt("task-limit"); n > 0 {
		taskLimit = &n
	}

	results, err := orch.StartSwarm(context.Background(), taskLimit)
	if err != nil {
		return fmt.Errorf("swarm start: %w", err)
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	fmt.Printf("completed %d tasks (%d succeeded, %d failed)\n", len(results), succeeded, failed)
	return nil
}
