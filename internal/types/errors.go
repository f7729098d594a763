package types

import "errors"

// Error taxonomy (spec.md §7). These are kinds, not concrete types: callers
// wrap a sentinel with context via fmt.Errorf("...: %w", ErrX) and compare
// with errors.Is.
var (
	// ErrValidation: bad input at any boundary. Returned to caller, no state change.
	ErrValidation = errors.New("validation error")

	// ErrDuplicateKey: InsertTask with a colliding id.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrCycle: a dependency insert would close a cycle. Returned to caller, no state change.
	ErrCycle = errors.New("cycle error")

	// ErrNotFound: missing task/dependency by id.
	ErrNotFound = errors.New("not found")

	// ErrTransientStore: SQLite busy/locked. Returned to the caller; the store does not retry it.
	ErrTransientStore = errors.New("transient store error")

	// ErrFatalStore: corruption, migration failure, disk full. Bubbles up; orchestrator shuts down.
	ErrFatalStore = errors.New("fatal store error")

	// ErrTaskExecution: AgentExecutor returned failure.
	ErrTaskExecution = errors.New("task execution error")

	// ErrTimeout: worker exceeded max_execution_timeout_seconds. Treated as ErrTaskExecution.
	ErrTimeout = errors.New("task timeout")

	// ErrCancelled: explicit cancellation.
	ErrCancelled = errors.New("task cancelled")

	// ErrIllegalTransition: an attempted status transition is not permitted from the current state.
	ErrIllegalTransition = errors.New("illegal status transition")
)
