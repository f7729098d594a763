package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/abathur-swarm/swarmcore/internal/logging"
	"github.com/abathur-swarm/swarmcore/internal/storage/sqlite/migrations"
)

// RunMigrations applies every registered migration whose version is not yet
// recorded in schema_meta, in order. Each migration runs directly against db,
// not inside a transaction.
func RunMigrations(db *sql.DB, log logging.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_meta (
			key   TEXT NOT NULL,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("migrations: ensure schema_meta: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.Query(`SELECT value FROM schema_meta WHERE key = 'migration_applied'`)
	if err != nil {
		return fmt.Errorf("migrations: read applied: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err == nil {
			applied[v] = true
		}
	}
	rows.Close()

	snap, err := captureSnapshot(db)
	if err != nil {
		return fmt.Errorf("migrations: snapshot: %w", err)
	}

	ran := false
	for _, m := range migrations.All() {
		if applied[m.Version] {
			continue
		}
		if err := m.Apply(db); err != nil {
			return fmt.Errorf("migrations: apply %d_%s: %w", m.Version, m.Name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_meta(key, value) VALUES ('migration_applied', ?)`, m.Version); err != nil {
			return fmt.Errorf("migrations: record %d_%s: %w", m.Version, m.Name, err)
		}
		log.Info("migration.applied", "version", m.Version, "name", m.Name)
		ran = true
	}

	if ran {
		if err := verifyInvariants(db, snap); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}
	return nil
}

// verifySchemaCompatibility probes that the core tables and columns this
// version of swarmcore depends on are actually present, catching a database
// left mid-migration by a crashed prior run.
func verifySchemaCompatibility(db *sql.DB) error {
	required := []string{"tasks", "task_dependencies", "checkpoints"}
	for _, table := range required {
		var exists bool
		err := db.QueryRow(`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("probe table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %q missing", table)
		}
	}

	requiredColumns := map[string][]string{
		"tasks": {"id", "status", "computed_priority", "dependency_depth", "feature_branch"},
	}
	for table, cols := range requiredColumns {
		for _, col := range cols {
			var exists bool
			err := db.QueryRow(`SELECT COUNT(*) > 0 FROM pragma_table_info(?) WHERE name = ?`, table, col).Scan(&exists)
			if err != nil {
				return fmt.Errorf("probe column %s.%s: %w", table, col, err)
			}
			if !exists {
				return fmt.Errorf("required column %s.%s missing", table, col)
			}
		}
	}
	return nil
}
