// Package priority implements the PriorityCalculator: folds base priority,
// DAG depth, deadline urgency, source, and downstream-blocking count into a
// single [0,100] score (spec.md §4.3).
package priority

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/abathur-swarm/swarmcore/internal/clock"
	"github.com/abathur-swarm/swarmcore/internal/metrics"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

// Weights sum to 1.0 (spec.md §4.3 reference values).
const (
	weightBase     = 0.35
	weightDepth    = 0.15
	weightUrgency  = 0.25
	weightSource   = 0.10
	weightBlocking = 0.15

	maxDepthNorm    = 10
	maxBlockingNorm = 20
	urgencyHorizon  = 7 * 24 * time.Hour // one week
)

// sourceWeight ranks HUMAN highest, AGENT_IMPLEMENTATION lowest.
var sourceWeight = map[types.Source]float64{
	types.SourceHuman:               1.0,
	types.SourceAgentRequirements:   0.75,
	types.SourceAgentPlanner:        0.5,
	types.SourceAgentImplementation: 0.25,
}

// resolver is the slice of graph.Resolver the calculator depends on.
type resolver interface {
	CalculateDependencyDepth(ctx context.Context, taskID string) (int, error)
	CountBlockedDownstream(ctx context.Context, taskID string) (int, error)
}

// Calculator computes composite priority scores.
type Calculator struct {
	resolver resolver
	clock    clock.Clock
	m        *metrics.Registry
}

// New builds a Calculator. m may be nil (metrics become no-ops).
func New(r resolver, c clock.Clock, m *metrics.Registry) *Calculator {
	if c == nil {
		c = clock.Real{}
	}
	return &Calculator{resolver: r, clock: c, m: m}
}

// Calculate returns a score in [0,100] for t, rounded to 2 decimals.
func (c *Calculator) Calculate(ctx context.Context, t *types.Task) (float64, error) {
	start := c.clock.Now()
	defer func() {
		if c.m != nil {
			c.m.PriorityLatency.Observe(c.clock.Now().Sub(start).Seconds())
		}
	}()

	depth, err := c.resolver.CalculateDependencyDepth(ctx, t.ID)
	if err != nil {
		return 0, fmt.Errorf("priority: depth for %s: %w", t.ID, err)
	}
	blockedCount, err := c.resolver.CountBlockedDownstream(ctx, t.ID)
	if err != nil {
		return 0, fmt.Errorf("priority: blocked count for %s: %w", t.ID, err)
	}

	base := clamp(float64(t.BasePriority)/10, 0, 1)
	depthNorm := clamp(float64(minInt(depth, maxDepthNorm))/maxDepthNorm, 0, 1)
	urgency := c.urgency(t)
	source := sourceWeight[t.Source]
	blocking := clamp(float64(minInt(blockedCount, maxBlockingNorm))/maxBlockingNorm, 0, 1)

	score := weightBase*base + weightDepth*depthNorm + weightUrgency*urgency + weightSource*source + weightBlocking*blocking
	score *= 100
	return roundTo(score, 2), nil
}

func (c *Calculator) urgency(t *types.Task) float64 {
	if t.Deadline == nil {
		return 0
	}
	hoursUntil := t.Deadline.Sub(c.clock.Now()).Hours()
	return clamp(1-hoursUntil/urgencyHorizon.Hours(), 0, 1)
}

// CalculateBatch scores every task in ts with a single resolver cache
// build backing all the depth/blocking lookups.
func (c *Calculator) CalculateBatch(ctx context.Context, ts []*types.Task) (map[string]float64, error) {
	out := make(map[string]float64, len(ts))
	for _, t := range ts {
		score, err := c.Calculate(ctx, t)
		if err != nil {
			return nil, err
		}
		out[t.ID] = score
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
