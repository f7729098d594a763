package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abathur-swarm/swarmcore/internal/storage"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

var memCmd = &cobra.Command{
	Use:   "mem",
	Short: "Prune terminal-status tasks from the store",
}

var memPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete tasks in a terminal status, optionally recursing over subtrees",
	Long: `Deletes tasks whose status is in the allowed set (default: completed,
failed, cancelled) and that match --namespace/--agent-type. With --recursive,
any matched task's full subtree is considered as one unit: if every node in
it is already terminal, the whole subtree is deleted; if even one descendant
is still non-terminal, the entire subtree is preserved (no partial deletes).`,
	RunE: runMemPrune,
}

func init() {
	memPruneCmd.Flags().String("namespace", "", "restrict to this feature branch")
	memPruneCmd.Flags().String("agent-type", "", "restrict to this agent type")
	memPruneCmd.Flags().Bool("recursive", false, "apply whole-subtree preservation semantics")
	memPruneCmd.Flags().Bool("dry-run", false, "list every task tree in the namespace with its status instead of deleting; status and agent-type filters are not applied")
	memPruneCmd.Flags().Int("preview-depth", 2, "depth bound for --dry-run's tree preview")
	memPruneCmd.Flags().Bool("force", false, "skip the confirmation prompt")
	memPruneCmd.Flags().String("vacuum", "conditional", "one of: never, conditional, always")
	memCmd.AddCommand(memPruneCmd)
	rootCmd.AddCommand(memCmd)
}

func runMemPrune(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	namespace, _ := cmd.Flags().GetString("namespace")
	agentType, _ := cmd.Flags().GetString("agent-type")
	recursive, _ := cmd.Flags().GetBool("recursive")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	previewDepth, _ := cmd.Flags().GetInt("preview-depth")
	force, _ := cmd.Flags().GetBool("force")
	vacuumStr, _ := cmd.Flags().GetString("vacuum")

	filters := storage.PruneFilters{
		AllowedStatuses: []types.Status{types.StatusCompleted, types.StatusFailed, types.StatusCancelled},
		Recursive:       recursive,
		Vacuum:          storage.VacuumMode(vacuumStr),
	}
	if namespace != "" {
		filters.FeatureBranch = &namespace
	}
	if agentType != "" {
		filters.AgentType = &agentType
	}

	ctx := context.Background()

	if dryRun {
		return previewPrune(ctx, a, namespace, previewDepth)
	}

	if !force && !confirmPrune(namespace, recursive) {
		fmt.Println("Aborted.")
		return nil
	}

	result, err := a.store.PruneTasks(ctx, filters)
	if err != nil {
		return err
	}

	fmt.Printf("deleted=%d preserved=%d vacuum_ran=%t bytes_reclaimed=%d\n",
		result.Deleted, result.Preserved, result.VacuumRan, result.BytesReclaimed)
	return nil
}

func previewPrune(ctx context.Context, a *app, namespace string, previewDepth int) error {
	filters := types.ListFilters{}
	if namespace != "" {
		filters.FeatureBranch = &namespace
	}
	tasks, err := a.store.ListTasks(ctx, filters, 0)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no matching tasks")
		return nil
	}
	roots := make([]string, 0, len(tasks))
	for _, t := range tasks {
		roots = append(roots, t.ID)
	}
	depth := previewDepth
	nodes, err := a.store.GetTaskTreeWithStatus(ctx, roots, &depth, nil)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		fmt.Printf("depth=%d id=%s status=%s\n", n.Depth, n.ID, n.Status)
	}
	return nil
}

func confirmPrune(namespace string, recursive bool) bool {
	scope := namespace
	if scope == "" {
		scope = "(all)"
	}
	fmt.Printf("Prune terminal tasks in namespace %s (recursive=%t)? (y/N) ", scope, recursive)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return answer == "y\n" || answer == "Y\n" || answer == "yes\n"
}
