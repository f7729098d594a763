// Package storage defines the interface for the task store backend
// (spec.md §4.1). Grounded on the teacher's internal/storage.Storage
// interface, narrowed to the task/dependency/checkpoint domain.
package storage

import (
	"context"

	"github.com/abathur-swarm/swarmcore/internal/types"
)

// VacuumMode controls PruneTasks' post-delete VACUUM behavior (spec.md §4.1).
type VacuumMode string

const (
	VacuumNever       VacuumMode = "never"
	VacuumConditional VacuumMode = "conditional"
	VacuumAlways      VacuumMode = "always"
)

// PruneFilters selects the candidate set for PruneTasks.
type PruneFilters struct {
	AllowedStatuses []types.Status
	Source          *types.Source
	AgentType       *string
	FeatureBranch   *string
	Recursive       bool
	Vacuum          VacuumMode
}

// PruneResult reports what PruneTasks actually did.
type PruneResult struct {
	Deleted       int
	Preserved     int // distinct tasks kept because their subtree had a non-terminal node
	VacuumRan     bool
	BytesReclaimed int64
}

// TreeNode is one row of GetTaskTreeWithStatus's flat result.
type TreeNode struct {
	ID       string
	ParentID string // empty for roots
	Status   types.Status
	Depth    int
}

// Store is the durable task/dependency/checkpoint backend (spec.md §4.1).
// All mutating operations are single-transaction: on error the transaction
// rolls back and no partial writes are visible.
type Store interface {
	InsertTask(ctx context.Context, t *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, bool, error)
	ListTasks(ctx context.Context, f types.ListFilters, limit int) ([]*types.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, newStatus types.Status, errMsg *string, result *string) error
	UpdateTaskPriority(ctx context.Context, id string, computedPriority float64) error
	IncrementRetryAndReady(ctx context.Context, id string, errMsg *string) error

	InsertDependency(ctx context.Context, dep *types.Dependency) error
	GetAllDependencyEdges(ctx context.Context) (map[string][]string, error) // dependent_id -> [prerequisite_ids]
	GetDependents(ctx context.Context, prerequisiteID string) ([]string, error)
	GetPrerequisites(ctx context.Context, dependentID string) ([]string, error)

	GetTaskTreeWithStatus(ctx context.Context, rootIDs []string, maxDepth *int, filterStatuses []types.Status) ([]TreeNode, error)

	PruneTasks(ctx context.Context, f PruneFilters) (*PruneResult, error)

	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	GetLatestCheckpoint(ctx context.Context, taskID string) (*types.Checkpoint, bool, error)

	GetQueueStatus(ctx context.Context) (*types.QueueStatus, error)
	GetFeatureBranchSummary(ctx context.Context, branch string) (*types.BranchSummary, error)

	// ExplainQueryPlan surfaces SQLite's query plan for index-usage assertions in tests.
	ExplainQueryPlan(ctx context.Context, sql string, args ...any) ([]string, error)

	Path() string
	Close() error
}
