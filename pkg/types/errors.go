package types

import "errors"

// Error classes surfaced by the engine. Callers wrap them with fmt.Errorf
// and test with errors.Is.
var (
	// ErrNotFound means a task, pipeline, execution or related row is missing
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed rejects a request the current state does not allow
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrInvalidTransition is a disallowed kanban move
	ErrInvalidTransition = errors.Join(ErrPreconditionFailed, errors.New("invalid status transition"))

	// ErrExternalToolMissing means the agent runtime is not installed
	ErrExternalToolMissing = errors.New("external tool missing")

	// ErrAgentFailure covers non-zero exits, spawn errors and timeouts
	ErrAgentFailure = errors.New("agent failed")
)
