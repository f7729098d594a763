package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/abathur-swarm/swarmcore/internal/storage"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

// maxBatchParams keeps each DELETE under SQLite's default parameter limit
// (SQLITE_MAX_VARIABLE_NUMBER), matching the teacher's batch_dependencies.go
// chunking discipline.
const maxBatchParams = 900

// PruneTasks deletes tasks matching f.AllowedStatuses (and any of
// Source/AgentType/FeatureBranch) in a single transaction.
//
// In recursive mode, for each match it computes the full parent_task_id
// subtree rooted at that match; if every node in the subtree has a status
// in f.AllowedStatuses the whole subtree is deleted, otherwise the whole
// subtree is preserved (partial-tree preservation, spec FR003). Deletion
// proceeds deepest-first, in batches of at most maxBatchParams IDs, so a
// child row is never deleted before rows referencing it via parent_task_id.
func (s *Store) PruneTasks(ctx context.Context, f storage.PruneFilters) (*storage.PruneResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("begin prune", err)
	}
	defer tx.Rollback()

	matches, err := pruneMatches(ctx, tx, f)
	if err != nil {
		return nil, err
	}

	var toDelete []storage.TreeNode
	var preserved int

	if f.Recursive {
		keep := map[string]bool{}
		var candidates []storage.TreeNode
		for _, rootID := range matches {
			subtree, err := subtreeOf(ctx, tx, rootID)
			if err != nil {
				return nil, err
			}
			if allInAllowedStatuses(subtree, f.AllowedStatuses) {
				candidates = append(candidates, subtree...)
			} else {
				for _, n := range subtree {
					keep[n.ID] = true
				}
			}
		}
		// a match nested inside a preserved subtree is preserved with it.
		for _, n := range candidates {
			if !keep[n.ID] {
				toDelete = append(toDelete, n)
			}
		}
		preserved = len(keep)
	} else {
		for _, id := range matches {
			toDelete = append(toDelete, storage.TreeNode{ID: id})
		}
	}

	toDelete = dedupeNodesByID(toDelete)

	sort.Slice(toDelete, func(i, j int) bool { return toDelete[i].Depth > toDelete[j].Depth })

	deleted := 0
	for start := 0; start < len(toDelete); start += maxBatchParams {
		end := start + maxBatchParams
		if end > len(toDelete) {
			end = len(toDelete)
		}
		batch := toDelete[start:end]
		ids := make([]any, len(batch))
		for i, n := range batch {
			ids[i] = n.ID
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM tasks WHERE id IN (%s)`, placeholders(len(ids))), ids...)
		if err != nil {
			return nil, wrapDBError("prune batch delete", err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("commit prune", err)
	}

	result := &storage.PruneResult{Deleted: deleted, Preserved: preserved}

	switch f.Vacuum {
	case storage.VacuumAlways:
		if err := s.vacuum(ctx, result); err != nil {
			return result, err
		}
	case storage.VacuumConditional:
		if deleted >= 100 {
			if err := s.vacuum(ctx, result); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

func (s *Store) vacuum(ctx context.Context, result *storage.PruneResult) error {
	var before int64
	_ = s.db.QueryRowContext(ctx, `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&before)

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return wrapDBError("vacuum", err)
	}
	result.VacuumRan = true

	var after int64
	_ = s.db.QueryRowContext(ctx, `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&after)
	if before > after {
		result.BytesReclaimed = before - after
	}
	return nil
}

// pruneMatches returns the IDs of tasks matching f's status/source/agent/branch filters.
func pruneMatches(ctx context.Context, tx execer, f storage.PruneFilters) ([]string, error) {
	if len(f.AllowedStatuses) == 0 {
		return nil, fmt.Errorf("%w: PruneTasks requires at least one allowed status", types.ErrValidation)
	}

	query := `SELECT id FROM tasks WHERE status IN (` + placeholders(len(f.AllowedStatuses)) + `)`
	args := make([]any, 0, len(f.AllowedStatuses)+3)
	for _, st := range f.AllowedStatuses {
		args = append(args, string(st))
	}
	if f.Source != nil {
		query += ` AND source = ?`
		args = append(args, string(*f.Source))
	}
	if f.AgentType != nil {
		query += ` AND agent_type = ?`
		args = append(args, *f.AgentType)
	}
	if f.FeatureBranch != nil {
		query += ` AND feature_branch = ?`
		args = append(args, *f.FeatureBranch)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("prune matches", err)
	}
	defer rows.Close()
	return scanStringColumn(rows)
}

// subtreeOf returns rootID and every descendant reachable via parent_task_id,
// depth-stamped relative to rootID.
func subtreeOf(ctx context.Context, tx execer, rootID string) ([]storage.TreeNode, error) {
	rows, err := tx.QueryContext(ctx, `
		WITH RECURSIVE subtree(id, status, depth) AS (
			SELECT id, status, 0 FROM tasks WHERE id = ?
			UNION ALL
			SELECT t.id, t.status, s.depth + 1
			FROM tasks t JOIN subtree s ON t.parent_task_id = s.id
		)
		SELECT id, status, depth FROM subtree
	`, rootID)
	if err != nil {
		return nil, wrapDBError("subtree query", err)
	}
	defer rows.Close()

	var out []storage.TreeNode
	for rows.Next() {
		var n storage.TreeNode
		var statusStr string
		if err := rows.Scan(&n.ID, &statusStr, &n.Depth); err != nil {
			return nil, wrapDBError("scan subtree node", err)
		}
		n.Status, _ = types.ParseStatus(statusStr)
		out = append(out, n)
	}
	return out, wrapDBError("subtree rows", rows.Err())
}

func allInAllowedStatuses(nodes []storage.TreeNode, allowed []types.Status) bool {
	set := make(map[types.Status]bool, len(allowed))
	for _, st := range allowed {
		set[st] = true
	}
	for _, n := range nodes {
		if !set[n.Status] {
			return false
		}
	}
	return true
}

func dedupeNodesByID(nodes []storage.TreeNode) []storage.TreeNode {
	seen := make(map[string]bool, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	return out
}
