// Package migrations holds swarmcore's idempotent, numbered schema
// migrations. Each migration probes pragma_table_info / sqlite_master before
// mutating so it is safe to run against a database already at or past that
// version (grounded on the teacher's internal/storage/sqlite/migrations
// package).
package migrations

import "database/sql"

// Migration is one numbered, idempotent schema change.
type Migration struct {
	Version int
	Name    string
	Apply   func(db *sql.DB) error
}

// All returns the registered migrations in ascending version order.
func All() []Migration {
	return []Migration{
		{Version: 1, Name: "worktree_columns", Apply: MigrateWorktreeColumns},
		{Version: 2, Name: "dependency_type_index", Apply: MigrateDependencyTypeIndex},
	}
}
