// Package queue implements the TaskQueue: enqueue/dequeue/complete
// transitions and prerequisite gating over a Store, DependencyResolver, and
// PriorityCalculator (spec.md §4.4).
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/abathur-swarm/swarmcore/internal/clock"
	"github.com/abathur-swarm/swarmcore/internal/logging"
	"github.com/abathur-swarm/swarmcore/internal/metrics"
	"github.com/abathur-swarm/swarmcore/internal/storage"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

// resolver is the slice of graph.Resolver the queue depends on.
type resolver interface {
	DetectCircularDependencies(ctx context.Context, dependent string, newPrereqs []string) (bool, error)
	ValidateNewDependency(ctx context.Context, dependent, prereq string) error
	AreAllDependenciesMet(ctx context.Context, taskID string) (bool, error)
	GetExecutionOrder(ctx context.Context, taskIDs []string) ([]types.ExecutionPhase, error)
	CalculateDependencyDepth(ctx context.Context, taskID string) (int, error)
	InvalidateCache()
}

// calculator is the slice of priority.Calculator the queue depends on.
type calculator interface {
	Calculate(ctx context.Context, t *types.Task) (float64, error)
}

// EnqueueRequest carries Enqueue's optional fields (spec.md §4.4).
type EnqueueRequest struct {
	Prompt          string
	Summary         string
	Source          types.Source
	AgentType       string
	BasePriority    int
	Prerequisites   []string
	Deadline        *time.Time
	FeatureBranch   *string
	TaskBranch      *string
	WorktreePath    *string
	CreatedBy       string
	SessionID       string
	ParentTaskID    *string
	MaxRetries      int
	MaxExecutionSecs int
	InputData       string
}

// Queue composes Store, Resolver, and Calculator into the task lifecycle API.
type Queue struct {
	store storage.Store
	res   resolver
	calc  calculator
	clock clock.Clock
	log   logging.Logger
	m     *metrics.Registry

	mu              sync.Mutex
	cancelRequested map[string]bool // RUNNING task IDs awaiting cooperative cancellation
}

// New builds a Queue.
func New(store storage.Store, res resolver, calc calculator, c clock.Clock, log logging.Logger, m *metrics.Registry) *Queue {
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Queue{
		store:           store,
		res:             res,
		calc:            calc,
		clock:           c,
		log:             log.With("component", "queue"),
		m:               m,
		cancelRequested: map[string]bool{},
	}
}

// isTerminal reports whether s is one of the statuses from which no further
// transition is legal (spec.md:246: nothing follows CANCELLED, and COMPLETED
// / FAILED are equally final).
func isTerminal(s types.Status) bool {
	return s == types.StatusCompleted || s == types.StatusFailed || s == types.StatusCancelled
}

// Enqueue validates req, computes initial depth and status, inserts the task
// and its dependency rows, invalidates the resolver cache, and returns the
// new task's ID.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if utf8.RuneCountInString(req.Summary) > types.MaxSummaryLength {
		return "", fmt.Errorf("%w: summary exceeds %d characters", types.ErrValidation, types.MaxSummaryLength)
	}

	if len(req.Prerequisites) > 0 {
		id := uuid.NewString()
		cyclic, err := q.res.DetectCircularDependencies(ctx, id, req.Prerequisites)
		if err != nil {
			return "", err
		}
		if cyclic {
			return "", fmt.Errorf("%w: enqueue would close a cycle", types.ErrCycle)
		}
		return q.enqueueWithID(ctx, id, req)
	}
	return q.enqueueWithID(ctx, uuid.NewString(), req)
}

func (q *Queue) enqueueWithID(ctx context.Context, id string, req EnqueueRequest) (string, error) {
	now := q.clock.Now()

	status := types.StatusReady
	if len(req.Prerequisites) > 0 {
		allMet := true
		for _, p := range req.Prerequisites {
			prereqTask, ok, err := q.store.GetTask(ctx, p)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", fmt.Errorf("%w: prerequisite %s", types.ErrNotFound, p)
			}
			if prereqTask.Status != types.StatusCompleted {
				allMet = false
			}
		}
		if !allMet {
			status = types.StatusBlocked
		}
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	// dependency_depth is 0 without prerequisites, otherwise 1 + the deepest
	// prerequisite; it is stored with the row by InsertTask.
	depth := 0
	for _, p := range req.Prerequisites {
		d, err := q.res.CalculateDependencyDepth(ctx, p)
		if err != nil {
			q.log.Warn("enqueue.depth_failed", "task_id", id, "error", err.Error())
			break
		}
		if d+1 > depth {
			depth = d + 1
		}
	}

	t := &types.Task{
		ID:               id,
		Prompt:           req.Prompt,
		Summary:          req.Summary,
		AgentType:        req.AgentType,
		BasePriority:     req.BasePriority,
		Status:           status,
		InputData:        req.InputData,
		MaxRetries:       maxRetries,
		MaxExecutionSecs: req.MaxExecutionSecs,
		SubmittedAt:      now,
		UpdatedAt:        now,
		CreatedBy:        req.CreatedBy,
		ParentTaskID:     req.ParentTaskID,
		SessionID:        req.SessionID,
		Source:           req.Source,
		DependencyDepth:  depth,
		Deadline:         req.Deadline,
		FeatureBranch:    req.FeatureBranch,
		TaskBranch:       req.TaskBranch,
		WorktreePath:     req.WorktreePath,
	}

	if err := q.store.InsertTask(ctx, t); err != nil {
		return "", err
	}

	for _, p := range req.Prerequisites {
		dep := &types.Dependency{DependentTaskID: id, PrerequisiteID: p, Type: types.DependencySequential, CreatedAt: now}
		if err := q.store.InsertDependency(ctx, dep); err != nil {
			return "", err
		}
	}

	q.res.InvalidateCache()

	if err := q.recomputePriority(ctx, t); err != nil {
		q.log.Warn("enqueue.priority_failed", "task_id", id, "error", err.Error())
	}

	q.log.Info("task.enqueued", "task_id", id, "status", string(status))
	return id, nil
}

func (q *Queue) recomputePriority(ctx context.Context, t *types.Task) error {
	score, err := q.calc.Calculate(ctx, t)
	if err != nil {
		return err
	}
	return q.store.UpdateTaskPriority(ctx, t.ID, score)
}

// GetNextTask selects the highest-computed-priority READY task and
// atomically transitions it to RUNNING, or returns (nil, false, nil) if
// none is available.
func (q *Queue) GetNextTask(ctx context.Context) (*types.Task, bool, error) {
	ready := types.StatusReady
	tasks, err := q.store.ListTasks(ctx, types.ListFilters{Status: &ready}, 1)
	if err != nil {
		return nil, false, err
	}
	if len(tasks) == 0 {
		return nil, false, nil
	}
	t := tasks[0]
	if err := q.store.UpdateTaskStatus(ctx, t.ID, types.StatusRunning, nil, nil); err != nil {
		return nil, false, err
	}
	t.Status = types.StatusRunning
	now := q.clock.Now()
	t.StartedAt = &now
	q.log.Info("task.dispatched", "task_id", t.ID, "priority", t.ComputedPriority)
	return t, true, nil
}

// CompleteTask transitions id to COMPLETED, invalidates the resolver cache,
// and re-evaluates every task that had id as a prerequisite: if all of a
// dependent's prerequisites are now COMPLETED it moves BLOCKED -> READY and
// its priority is recomputed.
func (q *Queue) CompleteTask(ctx context.Context, id string, result *string) error {
	task, ok, err := q.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}
	if isTerminal(task.Status) {
		return fmt.Errorf("%w: task %s in status %s cannot be completed", types.ErrIllegalTransition, id, task.Status)
	}

	if err := q.store.UpdateTaskStatus(ctx, id, types.StatusCompleted, nil, result); err != nil {
		return err
	}
	q.clearCancelRequest(id)
	q.res.InvalidateCache()
	q.log.Info("task.completed", "task_id", id)
	return q.promoteUnblockedDependents(ctx, id)
}

func (q *Queue) promoteUnblockedDependents(ctx context.Context, completedID string) error {
	dependents, err := q.store.GetDependents(ctx, completedID)
	if err != nil {
		return err
	}
	for _, depID := range dependents {
		met, err := q.res.AreAllDependenciesMet(ctx, depID)
		if err != nil {
			return err
		}
		if !met {
			continue
		}
		task, ok, err := q.store.GetTask(ctx, depID)
		if err != nil {
			return err
		}
		if !ok || task.Status != types.StatusBlocked {
			continue
		}
		if err := q.store.UpdateTaskStatus(ctx, depID, types.StatusReady, nil, nil); err != nil {
			return err
		}
		task.Status = types.StatusReady
		if err := q.recomputePriority(ctx, task); err != nil {
			q.log.Warn("unblock.priority_failed", "task_id", depID, "error", err.Error())
		}
		q.log.Info("task.unblocked", "task_id", depID)
	}
	return nil
}

// FailTask increments id's retry count; if still under budget it returns to
// READY with started_at reset, otherwise it transitions to FAILED.
func (q *Queue) FailTask(ctx context.Context, id string, errMsg string) error {
	task, ok, err := q.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}
	if isTerminal(task.Status) {
		return fmt.Errorf("%w: task %s in status %s cannot be failed", types.ErrIllegalTransition, id, task.Status)
	}

	if task.RetryCount+1 < task.MaxRetries {
		if err := q.store.IncrementRetryAndReady(ctx, id, &errMsg); err != nil {
			return err
		}
		q.log.Warn("task.retry", "task_id", id, "retry_count", task.RetryCount+1, "error", errMsg)
		if q.m != nil {
			q.m.TasksRetried.Inc()
		}
		return nil
	}

	if err := q.store.UpdateTaskStatus(ctx, id, types.StatusFailed, &errMsg, nil); err != nil {
		return err
	}
	q.clearCancelRequest(id)
	q.log.Error("task.failed", "task_id", id, "error", errMsg)
	return nil
}

// CancelTask cancels id. READY/BLOCKED tasks are cancelled immediately.
// RUNNING tasks cannot be cancelled in place since a worker may be mid-call;
// instead the cancellation is recorded and the orchestrator's worker observes
// it cooperatively at its next suspension point (spec.md:202), finalizing the
// transition via CancelRunningTask once the call returns. Already-terminal
// tasks reject the request.
func (q *Queue) CancelTask(ctx context.Context, id string) error {
	task, ok, err := q.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}

	switch task.Status {
	case types.StatusReady, types.StatusBlocked:
		if err := q.store.UpdateTaskStatus(ctx, id, types.StatusCancelled, nil, nil); err != nil {
			return err
		}
		q.res.InvalidateCache()
		q.log.Info("task.cancelled", "task_id", id)
		return nil
	case types.StatusRunning:
		q.mu.Lock()
		q.cancelRequested[id] = true
		q.mu.Unlock()
		q.log.Info("task.cancel_requested", "task_id", id)
		return nil
	default:
		return fmt.Errorf("%w: task %s in status %s cannot be cancelled", types.ErrIllegalTransition, id, task.Status)
	}
}

// IsCancelRequested reports whether a RUNNING task has a pending cooperative
// cancellation request. Workers check this at each suspension point.
func (q *Queue) IsCancelRequested(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelRequested[id]
}

// CancelRunningTask finalizes a cooperatively-cancelled RUNNING task: clears
// the pending request and transitions it to CANCELLED. Called by the
// orchestrator once the executor call for id has returned.
func (q *Queue) CancelRunningTask(ctx context.Context, id string) error {
	q.clearCancelRequest(id)
	if err := q.store.UpdateTaskStatus(ctx, id, types.StatusCancelled, nil, nil); err != nil {
		return err
	}
	q.res.InvalidateCache()
	q.log.Info("task.cancelled", "task_id", id)
	return nil
}

func (q *Queue) clearCancelRequest(id string) {
	q.mu.Lock()
	delete(q.cancelRequested, id)
	q.mu.Unlock()
}

// GetQueueStatus aggregates counts by status and average priority.
func (q *Queue) GetQueueStatus(ctx context.Context) (*types.QueueStatus, error) {
	return q.store.GetQueueStatus(ctx)
}

// GetFeatureBranchSummary reports per-branch progress.
func (q *Queue) GetFeatureBranchSummary(ctx context.Context, branch string) (*types.BranchSummary, error) {
	return q.store.GetFeatureBranchSummary(ctx, branch)
}

// GetTaskExecutionPlan returns ids partitioned into dependency-respecting
// phases via the resolver's topological sort.
func (q *Queue) GetTaskExecutionPlan(ctx context.Context, ids []string) ([]types.ExecutionPhase, error) {
	return q.res.GetExecutionOrder(ctx, ids)
}
