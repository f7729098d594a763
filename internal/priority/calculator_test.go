package priority

import (
	"context"
	"testing"
	"time"

	"github.com/abathur-swarm/swarmcore/internal/clock"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

type fakeResolver struct {
	depth   map[string]int
	blocked map[string]int
}

func (f *fakeResolver) CalculateDependencyDepth(ctx context.Context, taskID string) (int, error) {
	return f.depth[taskID], nil
}

func (f *fakeResolver) CountBlockedDownstream(ctx context.Context, taskID string) (int, error) {
	return f.blocked[taskID], nil
}

func TestCalculateBaseOnly(t *testing.T) {
	res := &fakeResolver{depth: map[string]int{}, blocked: map[string]int{}}
	c := New(res, clock.NewFake(time.Now()), nil)

	task := &types.Task{ID: "t1", BasePriority: 10, Source: types.SourceAgentImplementation}
	score, err := c.Calculate(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// base=1.0*0.35 + source=0.25*0.10 = 0.375 -> *100 = 37.5
	want := 37.5
	if score != want {
		t.Errorf("got %v, want %v", score, want)
	}
}

func TestCalculateDepthAndBlockingNormalize(t *testing.T) {
	res := &fakeResolver{
		depth:   map[string]int{"t1": 50}, // clamps to maxDepthNorm=10
		blocked: map[string]int{"t1": 100}, // clamps to maxBlockingNorm=20
	}
	c := New(res, clock.NewFake(time.Now()), nil)

	task := &types.Task{ID: "t1", BasePriority: 0, Source: types.Source("")}
	score, err := c.Calculate(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// depthNorm=1.0*0.15 + blocking=1.0*0.15 = 0.30 -> 30.0
	want := 30.0
	if score != want {
		t.Errorf("got %v, want %v", score, want)
	}
}

func TestCalculateUrgencyDeadlinePassed(t *testing.T) {
	now := time.Now()
	res := &fakeResolver{depth: map[string]int{}, blocked: map[string]int{}}
	c := New(res, clock.NewFake(now), nil)

	past := now.Add(-time.Hour)
	task := &types.Task{ID: "t1", Deadline: &past, Source: types.Source("")}
	score, err := c.Calculate(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// urgency clamps to 1.0 once the deadline has passed: 1.0*0.25 = 0.25 -> 25.0
	want := 25.0
	if score != want {
		t.Errorf("got %v, want %v", score, want)
	}
}

func TestCalculateUrgencyFarFuture(t *testing.T) {
	now := time.Now()
	res := &fakeResolver{depth: map[string]int{}, blocked: map[string]int{}}
	c := New(res, clock.NewFake(now), nil)

	farFuture := now.Add(30 * 24 * time.Hour)
	task := &types.Task{ID: "t1", Deadline: &farFuture, Source: types.Source("")}
	score, err := c.Calculate(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0 {
		t.Errorf("expected zero urgency contribution for a far-future deadline, got %v", score)
	}
}

func TestCalculateSourceWeights(t *testing.T) {
	res := &fakeResolver{depth: map[string]int{}, blocked: map[string]int{}}
	c := New(res, clock.NewFake(time.Now()), nil)

	human := &types.Task{ID: "h", Source: types.SourceHuman}
	impl := &types.Task{ID: "i", Source: types.SourceAgentImplementation}

	humanScore, err := c.Calculate(context.Background(), human)
	if err != nil {
		t.Fatal(err)
	}
	implScore, err := c.Calculate(context.Background(), impl)
	if err != nil {
		t.Fatal(err)
	}
	if humanScore <= implScore {
		t.Errorf("expected human-sourced task to outscore agent_implementation: %v vs %v", humanScore, implScore)
	}
}

func TestCalculateBatch(t *testing.T) {
	res := &fakeResolver{depth: map[string]int{}, blocked: map[string]int{}}
	c := New(res, clock.NewFake(time.Now()), nil)

	tasks := []*types.Task{
		{ID: "a", BasePriority: 5},
		{ID: "b", BasePriority: 10},
	}
	scores, err := c.CalculateBatch(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
	if scores["b"] <= scores["a"] {
		t.Errorf("expected b (base=10) to outscore a (base=5): %v vs %v", scores["b"], scores["a"])
	}
}
