package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abathur-swarm/swarmcore/internal/storage"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

// InsertTask validates t and inserts it in a single transaction.
func (s *Store) InsertTask(ctx context.Context, t *types.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}

	now := s.clock.Now()
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = now
	}
	t.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin insert task", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, prompt, summary, agent_type, base_priority, computed_priority, status,
			input_data, result_data, error_message, retry_count, max_retries,
			max_execution_seconds, submitted_at, started_at, completed_at, updated_at,
			created_by, parent_task_id, session_id, source, dependency_depth,
			deadline, estimated_duration_seconds, feature_branch, task_branch, worktree_path
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		t.ID, t.Prompt, t.Summary, t.AgentType, t.BasePriority, t.ComputedPriority, string(t.Status),
		t.InputData, t.ResultData, t.Error, t.RetryCount, t.MaxRetries,
		t.MaxExecutionSecs, formatTime(t.SubmittedAt), formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt), formatTime(t.UpdatedAt),
		t.CreatedBy, t.ParentTaskID, t.SessionID, string(t.Source), t.DependencyDepth,
		formatTimePtr(t.Deadline), durationSecondsPtr(t.EstimatedDuration), t.FeatureBranch, t.TaskBranch, t.WorktreePath,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task %s already exists", types.ErrDuplicateKey, t.ID)
		}
		return wrapDBError("insert task", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("commit insert task", err)
	}
	return nil
}

// GetTask returns the task with the given ID, or (nil, false, nil) if absent.
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, bool, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapDBError("get task", err)
	}
	return t, true, nil
}

const taskSelectColumns = `
	SELECT id, prompt, summary, agent_type, base_priority, computed_priority, status,
	       input_data, result_data, error_message, retry_count, max_retries,
	       max_execution_seconds, submitted_at, started_at, completed_at, updated_at,
	       created_by, parent_task_id, session_id, source, dependency_depth,
	       deadline, estimated_duration_seconds, feature_branch, task_branch, worktree_path
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var status, source string
	var errMsg, parentID, featureBranch, taskBranch, worktreePath sql.NullString
	var submittedAt, updatedAt string
	var startedAt, completedAt, deadline sql.NullString
	var estimatedSecs sql.NullInt64

	err := row.Scan(
		&t.ID, &t.Prompt, &t.Summary, &t.AgentType, &t.BasePriority, &t.ComputedPriority, &status,
		&t.InputData, &t.ResultData, &errMsg, &t.RetryCount, &t.MaxRetries,
		&t.MaxExecutionSecs, &submittedAt, &startedAt, &completedAt, &updatedAt,
		&t.CreatedBy, &parentID, &t.SessionID, &source, &t.DependencyDepth,
		&deadline, &estimatedSecs, &featureBranch, &taskBranch, &worktreePath,
	)
	if err != nil {
		return nil, err
	}

	t.Status, _ = types.ParseStatus(status)
	t.Source, _ = types.ParseSource(source)
	t.Error = errMsg.String
	t.ParentTaskID = nullStringPtr(parentID)
	t.FeatureBranch = nullStringPtr(featureBranch)
	t.TaskBranch = nullStringPtr(taskBranch)
	t.WorktreePath = nullStringPtr(worktreePath)
	t.SubmittedAt = parseTime(submittedAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.StartedAt = parseTimePtr(startedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	t.Deadline = parseTimePtr(deadline)
	if estimatedSecs.Valid {
		d := time.Duration(estimatedSecs.Int64) * time.Second
		t.EstimatedDuration = &d
	}
	return &t, nil
}

// ListTasks returns tasks matching f, highest computed priority first and
// oldest-submitted first among equal priorities, capped at limit
// (0 means unbounded).
func (s *Store) ListTasks(ctx context.Context, f types.ListFilters, limit int) ([]*types.Task, error) {
	query := taskSelectColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.ExcludeStatus != nil {
		query += ` AND status != ?`
		args = append(args, string(*f.ExcludeStatus))
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
	query += ` ORDER BY computed_priority DESC, submitted_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list tasks", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrapDBError("scan task", err)
		}
		out = append(out, t)
	}
	return out, wrapDBError("list tasks rows", rows.Err())
}

// UpdateTaskStatus transitions a task's status and, depending on the new
// status, stamps started_at/completed_at and stores errMsg/result.
// Invalid transitions are the caller's (TaskQueue's) responsibility to
// reject before calling this; the store only enforces that the task exists.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, newStatus types.Status, errMsg *string, result *string) error {
	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin update status", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM tasks WHERE id = ?`, id).Scan(&exists); err != nil {
		return wrapDBError("check task exists", err)
	}
	if !exists {
		return fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}

	query := `UPDATE tasks SET status = ?, updated_at = ?`
	args := []any{string(newStatus), formatTime(now)}

	switch newStatus {
	case types.StatusRunning:
		query += `, started_at = ?`
		args = append(args, formatTime(now))
	case types.StatusCompleted, types.StatusFailed, types.StatusCancelled:
		query += `, completed_at = ?`
		args = append(args, formatTime(now))
	}
	if errMsg != nil {
		query += `, error_message = ?`
		args = append(args, *errMsg)
	}
	if result != nil {
		query += `, result_data = ?`
		args = append(args, *result)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return wrapDBError("update task status", err)
	}

	return wrapDBError("commit update status", tx.Commit())
}

// UpdateTaskPriority stores a freshly computed score, without touching status.
func (s *Store) UpdateTaskPriority(ctx context.Context, id string, computedPriority float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET computed_priority = ?, updated_at = ? WHERE id = ?`,
		computedPriority, formatTime(s.clock.Now()), id)
	return wrapDBError("update task priority", err)
}

// IncrementRetryAndReady bumps retry_count, records errMsg, resets
// started_at, and returns the task to READY — the retry path of FailTask.
func (s *Store) IncrementRetryAndReady(ctx context.Context, id string, errMsg *string) error {
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET retry_count = retry_count + 1, status = ?, started_at = NULL,
		    error_message = ?, updated_at = ?
		WHERE id = ?
	`, string(types.StatusReady), errMsg, formatTime(now), id)
	return wrapDBError("increment retry", err)
}

// GetQueueStatus aggregates counts and average computed_priority by status.
func (s *Store) GetQueueStatus(ctx context.Context) (*types.QueueStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*), COALESCE(AVG(computed_priority), 0) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, wrapDBError("queue status", err)
	}
	defer rows.Close()

	qs := &types.QueueStatus{CountsByStatus: map[types.Status]int{}}
	var weightedSum float64
	for rows.Next() {
		var statusStr string
		var count int
		var avgPriority float64
		if err := rows.Scan(&statusStr, &count, &avgPriority); err != nil {
			return nil, wrapDBError("scan queue status", err)
		}
		status, _ := types.ParseStatus(statusStr)
		qs.CountsByStatus[status] = count
		qs.Total += count
		weightedSum += avgPriority * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("queue status rows", err)
	}
	if qs.Total > 0 {
		qs.AveragePriority = weightedSum / float64(qs.Total)
	}
	return qs, nil
}

// GetFeatureBranchSummary reports progress for a single feature branch.
func (s *Store) GetFeatureBranchSummary(ctx context.Context, branch string) (*types.BranchSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(AVG(computed_priority), 0)
		FROM tasks WHERE feature_branch = ? GROUP BY status
	`, branch)
	if err != nil {
		return nil, wrapDBError("branch summary", err)
	}
	defer rows.Close()

	summary := &types.BranchSummary{Branch: branch, CountsByStatus: map[types.Status]int{}}
	var weightedSum float64
	for rows.Next() {
		var statusStr string
		var count int
		var avgPriority float64
		if err := rows.Scan(&statusStr, &count, &avgPriority); err != nil {
			return nil, wrapDBError("scan branch summary", err)
		}
		status, _ := types.ParseStatus(statusStr)
		summary.CountsByStatus[status] = count
		summary.Total += count
		weightedSum += avgPriority * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("branch summary rows", err)
	}
	if summary.Total > 0 {
		summary.MeanPriority = weightedSum / float64(summary.Total)
		completed := summary.CountsByStatus[types.StatusCompleted]
		summary.CompletionRatio = float64(completed) / float64(summary.Total)
	}

	blockerRows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks WHERE feature_branch = ? AND status = 'blocked' ORDER BY id
	`, branch)
	if err != nil {
		return nil, wrapDBError("branch blockers", err)
	}
	defer blockerRows.Close()
	for blockerRows.Next() {
		var id string
		if err := blockerRows.Scan(&id); err != nil {
			return nil, wrapDBError("scan blocker", err)
		}
		summary.Blockers = append(summary.Blockers, id)
	}
	return summary, wrapDBError("branch blockers rows", blockerRows.Err())
}

// SaveCheckpoint inserts or replaces the checkpoint for (task_id, iteration).
func (s *Store) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	now := s.clock.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (task_id, iteration, state, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id, iteration) DO UPDATE SET state = excluded.state, created_at = excluded.created_at
	`, cp.TaskID, cp.Iteration, cp.State, formatTime(cp.CreatedAt))
	return wrapDBError("save checkpoint", err)
}

// GetLatestCheckpoint returns the highest-iteration checkpoint for taskID.
func (s *Store) GetLatestCheckpoint(ctx context.Context, taskID string) (*types.Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, iteration, state, created_at FROM checkpoints
		WHERE task_id = ? ORDER BY iteration DESC LIMIT 1
	`, taskID)

	var cp types.Checkpoint
	var createdAt string
	err := row.Scan(&cp.TaskID, &cp.Iteration, &cp.State, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapDBError("get latest checkpoint", err)
	}
	cp.CreatedAt = parseTime(createdAt)
	return &cp, true, nil
}

// ExplainQueryPlan runs EXPLAIN QUERY PLAN for sql and returns the `detail`
// column of each row, for test-time index-usage assertions.
func (s *Store) ExplainQueryPlan(ctx context.Context, sqlQuery string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "EXPLAIN QUERY PLAN "+sqlQuery, args...)
	if err != nil {
		return nil, wrapDBError("explain query plan", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id, parent, notUsed int
		var detail string
		if err := rows.Scan(&id, &parent, &notUsed, &detail); err != nil {
			return nil, wrapDBError("scan query plan row", err)
		}
		out = append(out, detail)
	}
	return out, wrapDBError("query plan rows", rows.Err())
}

var _ storage.Store = (*Store)(nil)
