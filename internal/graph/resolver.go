// Package graph implements the DependencyResolver: an in-memory cached view
// of the prerequisite DAG, rebuilt wholesale from the Store rather than
// patched incrementally (grounded on the teacher's blocked-issues cache
// rebuild discipline in internal/storage/sqlite).
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/abathur-swarm/swarmcore/internal/clock"
	"github.com/abathur-swarm/swarmcore/internal/logging"
	"github.com/abathur-swarm/swarmcore/internal/metrics"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

// edgeSource is the slice of Store the resolver depends on.
type edgeSource interface {
	GetAllDependencyEdges(ctx context.Context) (map[string][]string, error)
	GetTask(ctx context.Context, id string) (*types.Task, bool, error)
}

// Resolver answers graph-theoretic questions over the prerequisite DAG,
// caching the adjacency map between rebuilds (spec.md §4.2).
type Resolver struct {
	store edgeSource
	clock clock.Clock
	log   logging.Logger
	m     *metrics.Registry

	ttl time.Duration

	mu          sync.Mutex
	adjacency   map[string][]string // dependent_id -> [prerequisite_ids]
	reverse     map[string][]string // prerequisite_id -> [dependent_ids]
	depthCache  map[string]int
	builtAt     time.Time
	cacheStamp  uint64 // version counter this build corresponds to
	currentVer  uint64 // bumped by Invalidate / TaskQueue mutations
	neverBuilt  bool
}

// New constructs a Resolver with the given TTL (spec.md default 60s if zero).
func New(store edgeSource, ttl time.Duration, c clock.Clock, log logging.Logger, m *metrics.Registry) *Resolver {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Resolver{
		store:      store,
		clock:      c,
		log:        log.With("component", "graph.resolver"),
		m:          m,
		ttl:        ttl,
		neverBuilt: true,
	}
}

// InvalidateCache bumps the version counter so the next query triggers a
// full rebuild. Never mutates the cache in place.
func (r *Resolver) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentVer++
}

// ensureFresh rebuilds the adjacency map if the cache is stale (version
// bumped since last build, or TTL elapsed) or has never been built.
func (r *Resolver) ensureFresh(ctx context.Context) error {
	r.mu.Lock()
	stale := r.neverBuilt || r.cacheStamp != r.currentVer || r.clock.Now().Sub(r.builtAt) > r.ttl
	r.mu.Unlock()
	if !stale {
		if r.m != nil {
			r.m.ResolverCacheHits.Inc()
		}
		return nil
	}
	if r.m != nil {
		r.m.ResolverCacheMisses.Inc()
	}

	edges, err := r.store.GetAllDependencyEdges(ctx)
	if err != nil {
		return fmt.Errorf("graph: rebuild adjacency: %w", err)
	}

	reverse := make(map[string][]string, len(edges))
	for dependent, prereqs := range edges {
		for _, p := range prereqs {
			reverse[p] = append(reverse[p], dependent)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adjacency = edges
	r.reverse = reverse
	r.depthCache = make(map[string]int)
	r.builtAt = r.clock.Now()
	r.cacheStamp = r.currentVer
	r.neverBuilt = false
	r.log.Debug("resolver.cache.rebuilt", "edge_count", len(edges))
	return nil
}

// DetectCircularDependencies reports whether adding edges
// {(dependent -> p) for p in newPrereqs} would create a cycle in the
// existing graph: true iff dependent is reachable from any newPrereqs
// member via existing prerequisite edges.
func (r *Resolver) DetectCircularDependencies(ctx context.Context, dependent string, newPrereqs []string) (bool, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	adjacency := r.adjacency
	r.mu.Unlock()

	for _, start := range newPrereqs {
		if start == dependent {
			return true, nil
		}
		if reaches(adjacency, start, dependent) {
			return true, nil
		}
	}
	return false, nil
}

// reaches performs a DFS over adjacency (dependent -> prereqs) from start,
// returning true if target is reachable.
func reaches(adjacency map[string][]string, start, target string) bool {
	visited := map[string]bool{}
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == target {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range adjacency[node] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(start)
}

// CalculateDependencyDepth returns the length of the longest path from
// taskID to any root (a task with no prerequisites), memoized per cache
// build.
func (r *Resolver) CalculateDependencyDepth(ctx context.Context, taskID string) (int, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.depthCache[taskID]; ok {
		return d, nil
	}

	visiting := map[string]bool{}
	var depth func(id string) (int, error)
	depth = func(id string) (int, error) {
		if d, ok := r.depthCache[id]; ok {
			return d, nil
		}
		if visiting[id] {
			return 0, fmt.Errorf("%w: cycle detected computing depth of %s", types.ErrCycle, id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		prereqs := r.adjacency[id]
		if len(prereqs) == 0 {
			r.depthCache[id] = 0
			return 0, nil
		}
		max := 0
		for _, p := range prereqs {
			d, err := depth(p)
			if err != nil {
				return 0, err
			}
			if d+1 > max {
				max = d + 1
			}
		}
		r.depthCache[id] = max
		return max, nil
	}
	return depth(taskID)
}

// GetExecutionOrder returns taskIDs partitioned into phases via Kahn's
// algorithm on the induced subgraph: each phase is a maximal set of
// mutually independent tasks, ordered within the phase by computed priority
// descending, ties broken by id ascending (spec.md §4.2).
func (r *Resolver) GetExecutionOrder(ctx context.Context, taskIDs []string) ([]types.ExecutionPhase, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	adjacency := r.adjacency
	r.mu.Unlock()

	idSet := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		idSet[id] = true
	}

	priority := make(map[string]float64, len(taskIDs))
	for _, id := range taskIDs {
		t, ok, err := r.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			priority[id] = t.ComputedPriority
		}
	}

	// indegree within the induced subgraph: count prereqs that are also in idSet.
	indegree := make(map[string]int, len(taskIDs))
	inducedAdj := make(map[string][]string, len(taskIDs)) // prereq -> dependents, induced
	for _, id := range taskIDs {
		indegree[id] = 0
	}
	for _, dependent := range taskIDs {
		for _, p := range adjacency[dependent] {
			if idSet[p] {
				indegree[dependent]++
				inducedAdj[p] = append(inducedAdj[p], dependent)
			}
		}
	}

	var phases []types.ExecutionPhase
	remaining := len(taskIDs)
	processed := make(map[string]bool, len(taskIDs))

	for remaining > 0 {
		var ready []string
		for _, id := range taskIDs {
			if !processed[id] && indegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("%w: cycle detected in induced subgraph", types.ErrCycle)
		}
		sort.Slice(ready, func(i, j int) bool {
			pi, pj := priority[ready[i]], priority[ready[j]]
			if pi != pj {
				return pi > pj
			}
			return ready[i] < ready[j]
		})
		for _, id := range ready {
			processed[id] = true
			remaining--
			for _, dependent := range inducedAdj[id] {
				indegree[dependent]--
			}
		}
		phases = append(phases, types.ExecutionPhase{TaskIDs: ready})
	}
	return phases, nil
}

// AreAllDependenciesMet reports whether every prerequisite of taskID has
// status COMPLETED, by querying the Store directly (not cache) so it always
// reflects the latest status.
func (r *Resolver) AreAllDependenciesMet(ctx context.Context, taskID string) (bool, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	prereqs := append([]string(nil), r.adjacency[taskID]...)
	r.mu.Unlock()

	for _, p := range prereqs {
		task, ok, err := r.store.GetTask(ctx, p)
		if err != nil {
			return false, err
		}
		if !ok || task.Status != types.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// ValidateNewDependency combines an existence check with a cycle check:
// both dependent and prereq must exist, and adding the edge must not close
// a cycle.
func (r *Resolver) ValidateNewDependency(ctx context.Context, dependent, prereq string) error {
	if _, ok, err := r.store.GetTask(ctx, dependent); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: dependent task %s", types.ErrNotFound, dependent)
	}
	if _, ok, err := r.store.GetTask(ctx, prereq); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: prerequisite task %s", types.ErrNotFound, prereq)
	}

	cyclic, err := r.DetectCircularDependencies(ctx, dependent, []string{prereq})
	if err != nil {
		return err
	}
	if cyclic {
		return fmt.Errorf("%w: %s -> %s would close a cycle", types.ErrCycle, dependent, prereq)
	}
	return nil
}

// CountBlockedDownstream returns how many tasks (transitively) depend on
// taskID completing, used by the PriorityCalculator's blocking term.
func (r *Resolver) CountBlockedDownstream(ctx context.Context, taskID string) (int, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return 0, err
	}
	r.mu.Lock()
	reverse := r.reverse
	r.mu.Unlock()

	visited := map[string]bool{}
	var dfs func(id string)
	dfs = func(id string) {
		for _, dependent := range reverse[id] {
			if !visited[dependent] {
				visited[dependent] = true
				dfs(dependent)
			}
		}
	}
	dfs(taskID)
	return len(visited), nil
}
