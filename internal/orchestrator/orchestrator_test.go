package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/abathur-swarm/swarmcore/internal/clock"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

// fakeQueue is a minimal taskQueue backed by a slice of pending tasks handed
// out in order, with mutex-guarded bookkeeping since GetNextTask/CompleteTask/
// FailTask are called concurrently from worker goroutines.
type fakeQueue struct {
	mu              sync.Mutex
	pending         []*types.Task
	completed       []string
	failed          []string
	cancelled       []string
	cancelRequested map[string]bool
}

func (q *fakeQueue) GetNextTask(ctx context.Context) (*types.Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false, nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t, true, nil
}

func (q *fakeQueue) CompleteTask(ctx context.Context, id string, result *string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *fakeQueue) FailTask(ctx context.Context, id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, id)
	return nil
}

func (q *fakeQueue) IsCancelRequested(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelRequested[id]
}

func (q *fakeQueue) CancelRunningTask(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, id)
	return nil
}

// requestCancel marks id as cooperatively cancelled, simulating a concurrent
// queue.CancelTask call against a RUNNING task.
func (q *fakeQueue) requestCancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelRequested == nil {
		q.cancelRequested = map[string]bool{}
	}
	q.cancelRequested[id] = true
}

// fakeExecutor succeeds immediately for every task unless told to block
// until its context is cancelled (simulating a hung agent run) or to return
// a hard error (simulating a crashed agent process).
type fakeExecutor struct {
	blockUntilCancel bool
	hardErr          error
	sleep            time.Duration
}

func (e *fakeExecutor) ExecuteTask(ctx context.Context, t *types.Task) (ExecutorResult, error) {
	if e.blockUntilCancel {
		<-ctx.Done()
		return ExecutorResult{}, ctx.Err()
	}
	if e.sleep > 0 {
		select {
		case <-time.After(e.sleep):
		case <-ctx.Done():
			return ExecutorResult{}, ctx.Err()
		}
	}
	if e.hardErr != nil {
		return ExecutorResult{}, e.hardErr
	}
	return ExecutorResult{Success: true, Data: "ok:" + t.ID}, nil
}

func makeTasks(n int) []*types.Task {
	tasks := make([]*types.Task, n)
	for i := range tasks {
		tasks[i] = &types.Task{ID: fmt.Sprintf("t%d", i)}
	}
	return tasks
}

func TestStartSwarmTaskLimit(t *testing.T) {
	q := &fakeQueue{pending: makeTasks(20)}
	o := New(q, &fakeExecutor{}, 2, clock.NewFake(time.Now()), nil, nil)

	limit := 5
	results, err := o.StartSwarm(context.Background(), &limit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// task_limit is a floor, not a cap: up to limit+concurrency-1 may complete.
	if len(results) < limit {
		t.Fatalf("expected at least %d completions, got %d", limit, len(results))
	}
	if len(results) > limit+1 {
		t.Fatalf("expected at most %d completions with concurrency=2, got %d", limit+1, len(results))
	}
}

func TestStartSwarmEmptyQueueExitsCleanly(t *testing.T) {
	q := &fakeQueue{}
	o := New(q, &fakeExecutor{}, 2, clock.NewFake(time.Now()), nil, nil)

	results, err := o.StartSwarm(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected zero completions against an empty queue, got %d", len(results))
	}
}

func TestStartSwarmGracefulShutdown(t *testing.T) {
	q := &fakeQueue{pending: makeTasks(1000)}
	o := New(q, &fakeExecutor{sleep: 5 * time.Millisecond}, 4, clock.NewFake(time.Now()), nil, nil)

	done := make(chan struct{})
	var results []Result
	go func() {
		var err error
		results, err = o.StartSwarm(context.Background(), nil)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	o.Shutdown()
	o.Shutdown() // idempotent

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StartSwarm did not return after Shutdown")
	}
	if len(results) == 0 {
		t.Error("expected at least some tasks to complete before shutdown took effect")
	}
	if len(results) >= 1000 {
		t.Error("expected shutdown to stop well short of draining the entire queue")
	}
}

func TestStartSwarmExecutorErrorFailsTask(t *testing.T) {
	q := &fakeQueue{pending: makeTasks(1)}
	o := New(q, &fakeExecutor{hardErr: fmt.Errorf("agent process crashed")}, 1, clock.NewFake(time.Now()), nil, nil)

	limit := 1
	results, err := o.StartSwarm(context.Background(), &limit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected one failed result, got %+v", results)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.failed) != 1 || q.failed[0] != "t0" {
		t.Errorf("expected FailTask called for t0, got %+v", q.failed)
	}
}

func TestStartSwarmPerTaskTimeout(t *testing.T) {
	tasks := makeTasks(1)
	tasks[0].MaxExecutionSecs = 1
	q := &fakeQueue{pending: tasks}
	o := New(q, &fakeExecutor{blockUntilCancel: true}, 1, clock.NewFake(time.Now()), nil, nil)

	limit := 1
	results, err := o.StartSwarm(context.Background(), &limit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected one timed-out result, got %+v", results)
	}
	if results[0].Error == "" {
		t.Error("expected a timeout error message")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.failed) != 1 {
		t.Errorf("expected the timed-out task to be reported via FailTask, got %+v", q.failed)
	}
}

func TestRunWorkerReportsCancelledOverExecutorResult(t *testing.T) {
	q := &fakeQueue{}
	o := New(q, &fakeExecutor{}, 1, clock.NewFake(time.Now()), nil, nil)
	q.requestCancel("t0")

	r := o.runWorker(context.Background(), &types.Task{ID: "t0"})

	if r.Success {
		t.Fatalf("expected a cancelled task to report Success=false, got %+v", r)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.cancelled) != 1 || q.cancelled[0] != "t0" {
		t.Errorf("expected CancelRunningTask called for t0, got %+v", q.cancelled)
	}
	if len(q.completed) != 0 {
		t.Errorf("expected CompleteTask not to be called once cancellation is observed, got %+v", q.completed)
	}
}

func TestExecuteBatchLimitsToRequestedCount(t *testing.T) {
	q := &fakeQueue{pending: makeTasks(10)}
	o := New(q, &fakeExecutor{}, 3, clock.NewFake(time.Now()), nil, nil)

	results, err := o.ExecuteBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) < 3 {
		t.Fatalf("expected at least 3 completions, got %d", len(results))
	}
}
