package sqlite

import (
	"testing"

	"github.com/abathur-swarm/swarmcore/internal/logging"
)

func TestRunMigrationsIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := RunMigrations(s.db, logging.Noop()); err != nil {
		t.Fatalf("second RunMigrations call should be a no-op, got: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_meta WHERE key = 'migration_applied'`).Scan(&count); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected exactly 2 recorded migrations (versions 1 and 2), got %d", count)
	}
}

func TestMigratedColumnsAndIndexExist(t *testing.T) {
	s := newTestStore(t)

	for _, col := range []string{"feature_branch", "task_branch", "worktree_path"} {
		var exists bool
		if err := s.db.QueryRow(`SELECT COUNT(*) > 0 FROM pragma_table_info('tasks') WHERE name = ?`, col).Scan(&exists); err != nil {
			t.Fatalf("unexpected error probing column %s: %v", col, err)
		}
		if !exists {
			t.Errorf("expected column tasks.%s to exist after migrations", col)
		}
	}

	var indexExists bool
	if err := s.db.QueryRow(`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'index' AND name = 'idx_task_deps_type'`).Scan(&indexExists); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !indexExists {
		t.Error("expected idx_task_deps_type to exist after migrations")
	}
}

func TestVerifySchemaCompatibilityPassesOnFreshStore(t *testing.T) {
	s := newTestStore(t)
	if err := verifySchemaCompatibility(s.db); err != nil {
		t.Errorf("expected a freshly migrated store to pass compatibility checks, got: %v", err)
	}
}
