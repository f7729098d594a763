package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/abathur-swarm/swarmcore/internal/storage"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

// GetTaskTreeWithStatus walks the parent_task_id subtree rooted at rootIDs
// using a recursive CTE, optionally bounded by maxDepth and filtered to
// filterStatuses. Rows come back ordered depth-ascending then id-ascending so
// callers can render a stable tree without a second sort pass.
func (s *Store) GetTaskTreeWithStatus(ctx context.Context, rootIDs []string, maxDepth *int, filterStatuses []types.Status) ([]storage.TreeNode, error) {
	if len(rootIDs) == 0 {
		return nil, nil
	}

	rootPlaceholders := placeholders(len(rootIDs))
	query := fmt.Sprintf(`
		WITH RECURSIVE subtree(id, parent_task_id, status, depth) AS (
			SELECT id, parent_task_id, status, 0
			FROM tasks
			WHERE id IN (%s)
			UNION ALL
			SELECT t.id, t.parent_task_id, t.status, s.depth + 1
			FROM tasks t
			JOIN subtree s ON t.parent_task_id = s.id
	`, rootPlaceholders)

	args := make([]any, 0, len(rootIDs)+2)
	for _, id := range rootIDs {
		args = append(args, id)
	}

	if maxDepth != nil {
		query += ` WHERE s.depth + 1 <= ?`
		args = append(args, *maxDepth)
	}
	query += `
		)
		SELECT id, COALESCE(parent_task_id, ''), status, depth FROM subtree
	`

	if len(filterStatuses) > 0 {
		statusPlaceholders := placeholders(len(filterStatuses))
		query += ` WHERE status IN (` + statusPlaceholders + `)`
		for _, st := range filterStatuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY depth ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("get task tree", err)
	}
	defer rows.Close()

	var out []storage.TreeNode
	for rows.Next() {
		var node storage.TreeNode
		var statusStr string
		if err := rows.Scan(&node.ID, &node.ParentID, &statusStr, &node.Depth); err != nil {
			return nil, wrapDBError("scan task tree node", err)
		}
		node.Status, _ = types.ParseStatus(statusStr)
		out = append(out, node)
	}
	return out, wrapDBError("task tree rows", rows.Err())
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}
