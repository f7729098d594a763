package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abathur-swarm/swarmcore/internal/queue"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and inspect tasks",
}

var taskEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a new task",
	RunE:  runTaskEnqueue,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks matching filters",
	RunE:  runTaskList,
}

var taskGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskGet,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a READY/BLOCKED task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

func init() {
	taskEnqueueCmd.Flags().String("prompt", "", "the prompt text handed to the agent executor (required)")
	taskEnqueueCmd.Flags().String("summary", "", "short human-readable summary, max 500 chars")
	taskEnqueueCmd.Flags().String("source", "human", "one of: human, agent_requirements, agent_planner, agent_implementation")
	taskEnqueueCmd.Flags().String("agent-type", "", "agent type tag routed to the executor")
	taskEnqueueCmd.Flags().Int("base-priority", 5, "base priority 0-10")
	taskEnqueueCmd.Flags().StringSlice("depends-on", nil, "prerequisite task IDs (repeatable)")
	taskEnqueueCmd.Flags().String("feature-branch", "", "feature branch this task belongs to")
	_ = taskEnqueueCmd.MarkFlagRequired("prompt")

	taskListCmd.Flags().String("status", "", "filter by status")
	taskListCmd.Flags().String("exclude-status", "", "exclude a status")
	taskListCmd.Flags().Int("limit", 50, "max rows returned")

	taskCmd.AddCommand(taskEnqueueCmd, taskListCmd, taskGetCmd, taskCancelCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskEnqueue(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	prompt, _ := cmd.Flags().GetString("prompt")
	summary, _ := cmd.Flags().GetString("summary")
	sourceStr, _ := cmd.Flags().GetString("source")
	agentType, _ := cmd.Flags().GetString("agent-type")
	basePriority, _ := cmd.Flags().GetInt("base-priority")
	prereqs, _ := cmd.Flags().GetStringSlice("depends-on")
	branch, _ := cmd.Flags().GetString("feature-branch")

	req := queue.EnqueueRequest{
		Prompt:        prompt,
		Summary:       summary,
		Source:        types.Source(sourceStr),
		AgentType:     agentType,
		BasePriority:  basePriority,
		Prerequisites: prereqs,
	}
	if branch != "" {
		req.FeatureBranch = &branch
	}

	id, err := a.queue.Enqueue(context.Background(), req)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	limit, _ := cmd.Flags().GetInt("limit")
	filters := types.ListFilters{}
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		st := types.Status(s)
		filters.Status = &st
	}
	if s, _ := cmd.Flags().GetString("exclude-status"); s != "" {
		st := types.Status(s)
		filters.ExcludeStatus = &st
	}

	tasks, err := a.store.ListTasks(context.Background(), filters, limit)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("%s\t%s\t%.2f\t%s\n", t.ID, t.Status, t.ComputedPriority, t.Summary)
	}
	return nil
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	t, ok, err := a.store.GetTask(context.Background(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s not found", args[0])
	}

	fmt.Printf("id:                %s\n", t.ID)
	fmt.Printf("status:            %s\n", t.Status)
	fmt.Printf("summary:           %s\n", t.Summary)
	fmt.Printf("computed_priority: %.2f\n", t.ComputedPriority)
	fmt.Printf("base_priority:     %d\n", t.BasePriority)
	fmt.Printf("source:            %s\n", t.Source)
	fmt.Printf("agent_type:        %s\n", t.AgentType)
	fmt.Printf("retry_count:       %d/%d\n", t.RetryCount, t.MaxRetries)
	if t.Error != "" {
		fmt.Printf("error:             %s\n", strings.TrimSpace(t.Error))
	}
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	return a.queue.CancelTask(context.Background(), args[0])
}
