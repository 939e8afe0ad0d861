package scheduler

import "errors"

// Error classes. Every error returned by the Scheduler for a caller mistake
// matches exactly one of them with errors.Is.
var (
	// ErrValidation covers requests rejected before any state change
	ErrValidation = errors.New("validation error")

	// ErrConflict is returned when the identical task is already scheduled
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned for unknown task hashes
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the caller may not act on a task
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	// ErrMustAttachFunds is returned when a request carries no funds
	ErrMustAttachFunds = newError(ErrValidation, "must attach funds")

	// ErrCreatePaused is returned while task creation is paused
	ErrCreatePaused = newError(ErrValidation, "create task paused")

	// ErrNoActions is returned for a task without actions
	ErrNoActions = newError(ErrValidation, "task must have at least one action")

	// ErrActionUnsupported is returned for actions the scheduler will not run
	ErrActionUnsupported = newError(ErrValidation, "actions message unsupported")

	// ErrInvalidInterval is returned for malformed schedules
	ErrInvalidInterval = newError(ErrValidation, "interval invalid")

	// ErrTaskEnded is returned when a schedule has no slot left at creation
	ErrTaskEnded = newError(ErrValidation, "task ended")

	// ErrTaskExists is returned when a task with the same hash exists
	ErrTaskExists = newError(ErrConflict, "task already exists")

	// ErrTaskNotFound is returned when no task has the given hash
	ErrTaskNotFound = newError(ErrNotFound, "task not found")

	// ErrNotTaskOwner is returned when someone other than the owner refills
	ErrNotTaskOwner = newError(ErrUnauthorized, "only owner can refill their task")
)

// Error is a caller-facing error belonging to one class
type Error struct {
	class error
	msg   string
}

func newError(class error, msg string) *Error {
	return &Error{class: class, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// Unwrap returns the error class
func (e *Error) Unwrap() error {
	return e.class
}
