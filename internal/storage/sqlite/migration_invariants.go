// Package sqlite - migration safety invariants, adapted from the teacher's
// own pre/post migration snapshot-and-check discipline.
package sqlite

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Snapshot captures database state before migrations for post-migration validation.
type Snapshot struct {
	TaskCount       int
	ConfigKeys      []string
	DependencyCount int
	CheckpointCount int
}

// MigrationInvariant is a database invariant checked after migrations run.
type MigrationInvariant struct {
	Name        string
	Description string
	Check       func(*sql.DB, *Snapshot) error
}

var invariants = []MigrationInvariant{
	{
		Name:        "foreign_keys_valid",
		Description: "No orphaned task_dependencies or checkpoints",
		Check:       checkForeignKeys,
	},
	{
		Name:        "task_count_stable",
		Description: "Task count should not decrease unexpectedly",
		Check:       checkTaskCount,
	},
}

func captureSnapshot(db *sql.DB) (*Snapshot, error) {
	snap := &Snapshot{}

	if err := db.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&snap.TaskCount); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := db.Query("SELECT key FROM config ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("query config keys: %w", err)
	}
	defer rows.Close()
	snap.ConfigKeys = []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan config key: %w", err)
		}
		snap.ConfigKeys = append(snap.ConfigKeys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read config keys: %w", err)
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM task_dependencies").Scan(&snap.DependencyCount); err != nil {
		return nil, fmt.Errorf("count task_dependencies: %w", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM checkpoints").Scan(&snap.CheckpointCount); err != nil {
		return nil, fmt.Errorf("count checkpoints: %w", err)
	}

	return snap, nil
}

func verifyInvariants(db *sql.DB, snap *Snapshot) error {
	var failures []string
	for _, inv := range invariants {
		if err := inv.Check(db, snap); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", inv.Name, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("migration invariants failed:\n  - %s", strings.Join(failures, "\n  - "))
	}
	return nil
}

// checkForeignKeys ensures no orphaned task_dependencies or checkpoints exist
// (the tables carry ON DELETE CASCADE, so this would only fire after a
// migration that skipped the FK or ran with foreign_keys off).
func checkForeignKeys(db *sql.DB, _ *Snapshot) error {
	var orphanedDependent int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM task_dependencies d
		WHERE NOT EXISTS (SELECT 1 FROM tasks WHERE id = d.dependent_task_id)
	`).Scan(&orphanedDependent)
	if err != nil {
		return fmt.Errorf("check orphaned dependencies (dependent): %w", err)
	}
	if orphanedDependent > 0 {
		return fmt.Errorf("found %d orphaned task_dependencies (dependent_task_id)", orphanedDependent)
	}

	var orphanedPrereq int
	err = db.QueryRow(`
		SELECT COUNT(*) FROM task_dependencies d
		WHERE NOT EXISTS (SELECT 1 FROM tasks WHERE id = d.prerequisite_task_id)
	`).Scan(&orphanedPrereq)
	if err != nil {
		return fmt.Errorf("check orphaned dependencies (prerequisite): %w", err)
	}
	if orphanedPrereq > 0 {
		return fmt.Errorf("found %d orphaned task_dependencies (prerequisite_task_id)", orphanedPrereq)
	}

	var orphanedCheckpoints int
	err = db.QueryRow(`
		SELECT COUNT(*) FROM checkpoints c
		WHERE NOT EXISTS (SELECT 1 FROM tasks WHERE id = c.task_id)
	`).Scan(&orphanedCheckpoints)
	if err != nil {
		return fmt.Errorf("check orphaned checkpoints: %w", err)
	}
	if orphanedCheckpoints > 0 {
		return fmt.Errorf("found %d orphaned checkpoints", orphanedCheckpoints)
	}

	return nil
}

func checkTaskCount(db *sql.DB, snap *Snapshot) error {
	var current int
	if err := db.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&current); err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	if current < snap.TaskCount {
		return fmt.Errorf("task count decreased from %d to %d (potential data loss)", snap.TaskCount, current)
	}
	return nil
}

// GetInvariantNames returns the names of all registered invariants (for testing/inspection).
func GetInvariantNames() []string {
	names := make([]string, len(invariants))
	for i, inv := range invariants {
		names[i] = inv.Name
	}
	sort.Strings(names)
	return names
}
