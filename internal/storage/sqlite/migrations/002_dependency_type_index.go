package migrations

import "database/sql"

// MigrateDependencyTypeIndex adds an index on task_dependencies.type so the
// resolver can filter parallel-vs-sequential edges without a table scan on
// large dependency graphs.
func MigrateDependencyTypeIndex(db *sql.DB) error {
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type = 'index' AND name = 'idx_task_deps_type'
	`).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(`CREATE INDEX idx_task_deps_type ON task_dependencies(type)`)
	return err
}
