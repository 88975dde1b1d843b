package incident

import "fmt"

// The engine reports failures as exactly one of the kinds below so that
// callers can map each to a distinct user-visible outcome.

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type InvalidTransitionError struct {
	ID     int64
	From   Status
	To     Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("incident %d: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("incident %d: cannot move %s to %s", e.ID, e.From, e.To)
}

type PermissionError struct {
	Actor     string
	Operation string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s may not %s", e.Actor, e.Operation)
}

// PersistenceError reports a failed mirror write. The in-memory mutation
// it accompanies has already been applied and is not rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
