package sqlite

// schema is applied on every New/NewWithTimeout via `CREATE TABLE IF NOT
// EXISTS` so it is safe to run against an already-initialized database; the
// migrations package handles changes to tables that already existed before a
// given swarmcore version.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id                          TEXT PRIMARY KEY,
    prompt                      TEXT NOT NULL,
    summary                     TEXT NOT NULL DEFAULT '' CHECK(length(summary) <= 500),
    agent_type                  TEXT NOT NULL DEFAULT '',
    base_priority               INTEGER NOT NULL DEFAULT 0 CHECK(base_priority >= 0 AND base_priority <= 10),
    computed_priority           REAL NOT NULL DEFAULT 0,
    status                      TEXT NOT NULL DEFAULT 'pending',
    input_data                  TEXT NOT NULL DEFAULT '',
    result_data                 TEXT NOT NULL DEFAULT '',
    error_message               TEXT,
    retry_count                 INTEGER NOT NULL DEFAULT 0,
    max_retries                 INTEGER NOT NULL DEFAULT 3,
    max_execution_seconds       INTEGER NOT NULL DEFAULT 0,
    submitted_at                DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at                  DATETIME,
    completed_at                DATETIME,
    updated_at                  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by                  TEXT NOT NULL DEFAULT '',
    parent_task_id              TEXT,
    session_id                  TEXT NOT NULL DEFAULT '',
    source                      TEXT NOT NULL DEFAULT 'human',
    dependency_depth            INTEGER NOT NULL DEFAULT 0,
    deadline                    DATETIME,
    estimated_duration_seconds  INTEGER,
    feature_branch              TEXT,
    task_branch                 TEXT,
    worktree_path               TEXT,
    FOREIGN KEY (parent_task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_parent_task_id ON tasks(parent_task_id);
CREATE INDEX IF NOT EXISTS idx_tasks_feature_branch ON tasks(feature_branch);
CREATE INDEX IF NOT EXISTS idx_tasks_source ON tasks(source);
CREATE INDEX IF NOT EXISTS idx_tasks_agent_type ON tasks(agent_type);
CREATE INDEX IF NOT EXISTS idx_tasks_priority_submitted ON tasks(computed_priority DESC, submitted_at ASC);

-- Prerequisite DAG, disjoint from the parent_task_id tree above (spec.md §3).
CREATE TABLE IF NOT EXISTS task_dependencies (
    dependent_task_id    TEXT NOT NULL,
    prerequisite_task_id TEXT NOT NULL,
    type                 TEXT NOT NULL DEFAULT 'sequential',
    created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (dependent_task_id, prerequisite_task_id),
    FOREIGN KEY (dependent_task_id) REFERENCES tasks(id) ON DELETE CASCADE,
    FOREIGN KEY (prerequisite_task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_task_deps_dependent ON task_dependencies(dependent_task_id);
CREATE INDEX IF NOT EXISTS idx_task_deps_prerequisite ON task_dependencies(prerequisite_task_id);

-- Iterative loop executor checkpoints (spec.md §3, optional extension).
CREATE TABLE IF NOT EXISTS checkpoints (
    task_id    TEXT NOT NULL,
    iteration  INTEGER NOT NULL,
    state      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (task_id, iteration),
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS config (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_meta (
    key   TEXT NOT NULL,
    value TEXT NOT NULL
);
`
