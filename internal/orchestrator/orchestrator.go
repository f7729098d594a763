// Package orchestrator implements the SwarmOrchestrator: a single-threaded
// cooperative poll loop fanning out to bounded-concurrency workers
// (spec.md §4.5). The poll loop owns all mutable scheduling state itself
// (results, active-worker count) and only learns of worker completions via
// a channel, the same single-goroutine-owns-state discipline as the
// teacher's FlushManager (cmd/bd/flush_manager.go).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/abathur-swarm/swarmcore/internal/clock"
	"github.com/abathur-swarm/swarmcore/internal/logging"
	"github.com/abathur-swarm/swarmcore/internal/metrics"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

// Result is what a worker reports back to the scheduler for one task.
type Result struct {
	TaskID  string
	Success bool
	Data    string
	Error   string
}

// ExecutorResult is what AgentExecutor.ExecuteTask returns.
type ExecutorResult struct {
	Success  bool
	Data     string
	Error    string
	Metadata map[string]string
}

// AgentExecutor is the external LLM/agent runner, treated as a black box
// (spec.md §6). ExecuteTask may take seconds to minutes and may fail
// transiently; the orchestrator does not retry it directly — FailTask's
// retry budget governs re-attempts via a later GetNextTask.
type AgentExecutor interface {
	ExecuteTask(ctx context.Context, t *types.Task) (ExecutorResult, error)
}

// taskQueue is the slice of queue.Queue the orchestrator depends on.
type taskQueue interface {
	GetNextTask(ctx context.Context) (*types.Task, bool, error)
	CompleteTask(ctx context.Context, id string, result *string) error
	FailTask(ctx context.Context, id string, errMsg string) error
	IsCancelRequested(id string) bool
	CancelRunningTask(ctx context.Context, id string) error
}

// consecutiveEmptyPollsBeforeExit is K in spec.md's pseudocode: the loop
// only exits on an empty queue once this many polls in a row found nothing
// and no workers are in flight.
const consecutiveEmptyPollsBeforeExit = 3

// Orchestrator runs the poll loop described in spec.md §4.5.
type Orchestrator struct {
	queue    taskQueue
	executor AgentExecutor
	clock    clock.Clock
	log      logging.Logger
	m        *metrics.Registry

	maxConcurrentAgents int
	pollInterval        time.Duration

	shutdownRequested atomic.Bool
	shutdownOnce      sync.Once
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithPollInterval overrides the default 100ms poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// New builds an Orchestrator with the given worker concurrency limit
// (spec.md default 10).
func New(q taskQueue, executor AgentExecutor, maxConcurrentAgents int, c clock.Clock, log logging.Logger, m *metrics.Registry, opts ...Option) *Orchestrator {
	if maxConcurrentAgents <= 0 {
		maxConcurrentAgents = 10
	}
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.Noop()
	}
	o := &Orchestrator{
		queue:               q,
		executor:            executor,
		clock:               c,
		log:                 log.With("component", "orchestrator"),
		m:                   m,
		maxConcurrentAgents: maxConcurrentAgents,
		pollInterval:        100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Shutdown requests graceful termination: no new workers spawn after this
// call, in-flight workers run to completion, then StartSwarm returns.
// Idempotent and safe to call concurrently with StartSwarm.
func (o *Orchestrator) Shutdown() {
	o.shutdownOnce.Do(func() {
		o.shutdownRequested.Store(true)
		o.log.Info("orchestrator.shutdown_requested")
	})
}

// StartSwarm runs the poll loop until shutdown, until taskLimit tasks have
// completed (nil means unbounded), or until the queue is empty with no
// in-flight workers for consecutiveEmptyPollsBeforeExit consecutive polls.
// Per spec.md, taskLimit is a floor, not a cap: with concurrency C and limit
// L, up to L+C-1 tasks may actually complete.
func (o *Orchestrator) StartSwarm(ctx context.Context, taskLimit *int) ([]Result, error) {
	sem := semaphore.NewWeighted(int64(o.maxConcurrentAgents))
	completions := make(chan Result, o.maxConcurrentAgents)

	var results []Result
	active := 0
	emptyPolls := 0

	spawn := func(t *types.Task) {
		active++
		if o.m != nil {
			o.m.ActiveWorkers.Inc()
		}
		go func() {
			defer sem.Release(1)
			completions <- o.runWorker(ctx, t)
		}()
	}

	drainOne := func() {
		r := <-completions
		active--
		if o.m != nil {
			o.m.ActiveWorkers.Dec()
		}
		results = append(results, r)
	}

	for {
		if o.shutdownRequested.Load() {
			o.log.Info("orchestrator.shutdown_observed", "active_workers", active)
			break
		}
		if taskLimit != nil && len(results) >= *taskLimit {
			break
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// every worker that has released its slot has already sent its
		// result; count those before deciding whether to dispatch another.
		for len(completions) > 0 {
			drainOne()
		}
		if taskLimit != nil && len(results) >= *taskLimit {
			sem.Release(1)
			break
		}

		t, ok, err := o.queue.GetNextTask(ctx)
		if err != nil {
			sem.Release(1)
			return results, fmt.Errorf("orchestrator: get next task: %w", err)
		}
		if !ok {
			sem.Release(1)
			if active == 0 {
				emptyPolls++
				if emptyPolls >= consecutiveEmptyPollsBeforeExit {
					break
				}
			}
			select {
			case <-ctx.Done():
				for active > 0 {
					drainOne()
				}
				return results, ctx.Err()
			case <-o.clock.After(o.pollInterval):
			}
			continue
		}
		emptyPolls = 0
		spawn(t)

		// opportunistically drain any completions without blocking, so the
		// results slice (and taskLimit check) stays current.
		for {
			select {
			case r := <-completions:
				active--
				if o.m != nil {
					o.m.ActiveWorkers.Dec()
				}
				results = append(results, r)
				continue
			default:
			}
			break
		}
	}

	for active > 0 {
		drainOne()
	}

	o.log.Info("orchestrator.swarm_finished", "completed", len(results))
	return results, nil
}

// ExecuteBatch is sugar for StartSwarm(task_limit = len(ids)). The
// orchestrator does not promise those specific ids run, only that exactly
// that many tasks complete, selected by priority (spec.md §4.5).
func (o *Orchestrator) ExecuteBatch(ctx context.Context, ids []string) ([]Result, error) {
	limit := len(ids)
	return o.StartSwarm(ctx, &limit)
}

// runWorker executes one task via AgentExecutor and reports the outcome to
// the queue, honoring the task's max_execution_timeout. ExecuteTask's return
// is the worker's one suspension point (spec.md:202): a cancellation request
// recorded against the task while it ran is observed here, ahead of the
// executor's own success/failure result.
func (o *Orchestrator) runWorker(ctx context.Context, t *types.Task) Result {
	workerCtx := ctx
	var cancel context.CancelFunc
	if t.MaxExecutionSecs > 0 {
		workerCtx, cancel = context.WithTimeout(ctx, time.Duration(t.MaxExecutionSecs)*time.Second)
		defer cancel()
	}

	execRes, execErr := o.executor.ExecuteTask(workerCtx, t)

	if o.queue.IsCancelRequested(t.ID) {
		if err := o.queue.CancelRunningTask(ctx, t.ID); err != nil {
			o.log.Error("orchestrator.cancel_failed", "task_id", t.ID, "error", err.Error())
		}
		if o.m != nil {
			o.m.TasksCancelled.Inc()
		}
		o.log.Info("task.cancel_observed", "task_id", t.ID)
		return Result{TaskID: t.ID, Success: false, Error: types.ErrCancelled.Error()}
	}

	if execErr != nil {
		if workerCtx.Err() == context.DeadlineExceeded {
			errMsg := fmt.Sprintf("task exceeded max_execution_timeout_seconds=%d", t.MaxExecutionSecs)
			o.completeOrFail(ctx, t.ID, false, "", errMsg)
			return Result{TaskID: t.ID, Success: false, Error: errMsg}
		}
		o.completeOrFail(ctx, t.ID, false, "", execErr.Error())
		return Result{TaskID: t.ID, Success: false, Error: execErr.Error()}
	}

	o.completeOrFail(ctx, t.ID, execRes.Success, execRes.Data, execRes.Error)
	return Result{TaskID: t.ID, Success: execRes.Success, Data: execRes.Data, Error: execRes.Error}
}

func (o *Orchestrator) completeOrFail(ctx context.Context, taskID string, success bool, data, errMsg string) {
	if success {
		if err := o.queue.CompleteTask(ctx, taskID, &data); err != nil {
			o.log.Error("orchestrator.complete_failed", "task_id", taskID, "error", err.Error())
		}
		if o.m != nil {
			o.m.TasksCompleted.Inc()
		}
		return
	}
	if err := o.queue.FailTask(ctx, taskID, errMsg); err != nil {
		o.log.Error("orchestrator.fail_failed", "task_id", taskID, "error", err.Error())
	}
	if o.m != nil {
		o.m.TasksFailed.Inc()
	}
}
