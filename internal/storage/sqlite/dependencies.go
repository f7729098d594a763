package sqlite

import (
	"context"
	"fmt"

	"github.com/abathur-swarm/swarmcore/internal/types"
)

// InsertDependency records a prerequisite edge. Cycle detection is the
// DependencyResolver's job (it holds the in-memory adjacency graph); the
// store rejects a self-edge and an unknown dependency type, enforces that
// both endpoints exist via the foreign keys, and rejects an exact duplicate
// edge.
func (s *Store) InsertDependency(ctx context.Context, dep *types.Dependency) error {
	if dep.DependentTaskID == dep.PrerequisiteID {
		return fmt.Errorf("%w: task cannot depend on itself", types.ErrValidation)
	}
	if !dep.Type.IsValid() {
		return fmt.Errorf("%w: invalid dependency type %q", types.ErrValidation, dep.Type)
	}

	now := s.clock.Now()
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_dependencies (dependent_task_id, prerequisite_task_id, type, created_at)
		VALUES (?, ?, ?, ?)
	`, dep.DependentTaskID, dep.PrerequisiteID, string(dep.Type), formatTime(dep.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: dependency %s -> %s already exists", types.ErrDuplicateKey, dep.DependentTaskID, dep.PrerequisiteID)
		}
		return wrapDBError("insert dependency", err)
	}
	return nil
}

// GetAllDependencyEdges returns the full dependency graph as an adjacency
// map keyed by dependent task ID, for the DependencyResolver to load into
// its cache in one query.
func (s *Store) GetAllDependencyEdges(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dependent_task_id, prerequisite_task_id FROM task_dependencies`)
	if err != nil {
		return nil, wrapDBError("get all dependency edges", err)
	}
	defer rows.Close()

	edges := map[string][]string{}
	for rows.Next() {
		var dependent, prereq string
		if err := rows.Scan(&dependent, &prereq); err != nil {
			return nil, wrapDBError("scan dependency edge", err)
		}
		edges[dependent] = append(edges[dependent], prereq)
	}
	return edges, wrapDBError("dependency edge rows", rows.Err())
}

// GetDependents returns the IDs of tasks whose prerequisite is prerequisiteID.
func (s *Store) GetDependents(ctx context.Context, prerequisiteID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dependent_task_id FROM task_dependencies WHERE prerequisite_task_id = ? ORDER BY dependent_task_id
	`, prerequisiteID)
	if err != nil {
		return nil, wrapDBError("get dependents", err)
	}
	defer rows.Close()
	return scanStringColumn(rows)
}

// GetPrerequisites returns the IDs dependentID directly depends on.
func (s *Store) GetPrerequisites(ctx context.Context, dependentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prerequisite_task_id FROM task_dependencies WHERE dependent_task_id = ? ORDER BY prerequisite_task_id
	`, dependentID)
	if err != nil {
		return nil, wrapDBError("get prerequisites", err)
	}
	defer rows.Close()
	return scanStringColumn(rows)
}

func scanStringColumn(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, wrapDBError("scan string column", err)
		}
		out = append(out, v)
	}
	return out, wrapDBError("string column rows", rows.Err())
}
