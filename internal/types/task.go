// Package types defines the data model shared by every swarmcore component:
// tasks, their prerequisite edges, checkpoints, and the enums the boundary
// layers parse from strings.
package types

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Status is a task's position in its lifecycle.
//
// Transitions: PENDING/BLOCKED -> READY -> RUNNING -> (COMPLETED | FAILED | CANCELLED).
type Status string

const (
	StatusPending   Status = "pending"
	StatusBlocked   Status = "blocked"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of {COMPLETED, FAILED, CANCELLED}.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a recognized status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusBlocked, StatusReady, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus parses a status from its wire/string form, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

// Source identifies who or what submitted a task.
type Source string

const (
	SourceHuman               Source = "human"
	SourceAgentRequirements   Source = "agent_requirements"
	SourceAgentPlanner        Source = "agent_planner"
	SourceAgentImplementation Source = "agent_implementation"
)

// IsValid reports whether src is a recognized task source.
func (src Source) IsValid() bool {
	switch src {
	case SourceHuman, SourceAgentRequirements, SourceAgentPlanner, SourceAgentImplementation:
		return true
	default:
		return false
	}
}

// ParseSource parses a source from its wire/string form, rejecting unknown values.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.IsValid() {
		return "", fmt.Errorf("%w: unknown task source %q", ErrValidation, s)
	}
	return src, nil
}

// DependencyType distinguishes ordering semantics for a prerequisite edge.
// Both types gate readiness identically (a dependent waits for every
// prerequisite to complete); the distinction is informational for callers
// that want to render or schedule sequential vs. parallel sub-plans.
type DependencyType string

const (
	DependencySequential DependencyType = "sequential"
	DependencyParallel   DependencyType = "parallel"
)

// IsValid reports whether dt is a recognized dependency type.
func (dt DependencyType) IsValid() bool {
	switch dt {
	case DependencySequential, DependencyParallel:
		return true
	default:
		return false
	}
}

// ParseDependencyType parses a dependency type from its wire/string form.
func ParseDependencyType(s string) (DependencyType, error) {
	dt := DependencyType(s)
	if !dt.IsValid() {
		return "", fmt.Errorf("%w: unknown dependency type %q", ErrValidation, s)
	}
	return dt, nil
}

// MaxSummaryLength is the enforced upper bound for Task.Summary (spec.md §3).
const MaxSummaryLength = 500

// Task is the unit of work dispatched to an external agent executor.
//
// InputData and ResultData are opaque JSON blobs (spec.md §9: "dynamic dict
// payloads ... do not attempt to reflect them into the type system"); callers
// that know the schema for a given AgentType decode them with their own
// typed accessors.
type Task struct {
	ID                string
	Prompt            string
	Summary           string
	AgentType         string
	BasePriority      int // 0-10
	ComputedPriority  float64 // 0-100, see internal/priority
	Status            Status
	InputData         string // serialized JSON, opaque to the core
	ResultData        string // serialized JSON, opaque to the core
	Error             string
	RetryCount        int
	MaxRetries        int
	MaxExecutionSecs  int
	SubmittedAt       time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	UpdatedAt         time.Time
	CreatedBy         string
	ParentTaskID      *string
	SessionID         string
	Source            Source
	DependencyDepth   int
	Deadline          *time.Time
	EstimatedDuration *time.Duration
	FeatureBranch     *string
	TaskBranch        *string
	WorktreePath      *string
}

// Validate enforces the field-level invariants spec.md §3 requires at enqueue
// time: summary length, status well-formedness, and a non-empty prompt.
func (t *Task) Validate() error {
	if t.Prompt == "" {
		return fmt.Errorf("%w: prompt must not be empty", ErrValidation)
	}
	if n := utf8.RuneCountInString(t.Summary); n > MaxSummaryLength {
		return fmt.Errorf("%w: summary exceeds %d characters (got %d)", ErrValidation, MaxSummaryLength, n)
	}
	if t.BasePriority < 0 || t.BasePriority > 10 {
		return fmt.Errorf("%w: base priority must be in [0,10], got %d", ErrValidation, t.BasePriority)
	}
	if t.Status != "" && !t.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, t.Status)
	}
	if t.Source != "" && !t.Source.IsValid() {
		return fmt.Errorf("%w: invalid task source %q", ErrValidation, t.Source)
	}
	return nil
}

// Dependency is an ordered (dependent, prerequisite) edge in the DAG.
type Dependency struct {
	DependentTaskID   string
	PrerequisiteID    string
	Type              DependencyType
	CreatedAt         time.Time
}

// Checkpoint is a per-task, per-iteration snapshot for the optional iterative
// loop executor (spec.md §3). Only the most recent checkpoint per task is
// authoritative.
type Checkpoint struct {
	TaskID    string
	Iteration int
	State     string // serialized JSON blob, opaque to the core
	CreatedAt time.Time
}

// ListFilters narrows ListTasks results. Status and ExcludeStatus may both be
// set; they AND (spec.md §4.1).
type ListFilters struct {
	Status        *Status
	ExcludeStatus *Status
	Source        *Source
	AgentType     *string
	FeatureBranch *string
}

// QueueStatus is the aggregate view over all tasks (spec.md §3).
type QueueStatus struct {
	CountsByStatus  map[Status]int
	AveragePriority float64
	Total           int
}

// BranchSummary is the per-feature-branch aggregate (spec.md §3).
type BranchSummary struct {
	Branch          string
	Total           int
	CountsByStatus  map[Status]int
	Blockers        []string // IDs of this branch's tasks in BLOCKED status; the prerequisites they wait on are not listed
	CompletionRatio float64
	MeanPriority    float64
}

// ExecutionPhase is one level of a topological execution plan: a maximal set
// of mutually independent tasks that may run in parallel.
type ExecutionPhase struct {
	TaskIDs []string
}
