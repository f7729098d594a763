package migrations

import "database/sql"

// MigrateWorktreeColumns adds the git-worktree bookkeeping columns to tasks
// for databases created before swarmcore tracked per-task branches.
func MigrateWorktreeColumns(db *sql.DB) error {
	columns := []struct {
		name    string
		sqlType string
	}{
		{"feature_branch", "TEXT"},
		{"task_branch", "TEXT"},
		{"worktree_path", "TEXT"},
	}

	for _, col := range columns {
		var exists bool
		err := db.QueryRow(`
			SELECT COUNT(*) > 0
			FROM pragma_table_info('tasks')
			WHERE name = ?
		`, col.name).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.Exec("ALTER TABLE tasks ADD COLUMN " + col.name + " " + col.sqlType); err != nil {
			return err
		}
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_feature_branch ON tasks(feature_branch)`)
	return err
}
