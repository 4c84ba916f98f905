package reminder

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a reminder does not exist, belongs to
	// another owner, or is already completed.
	ErrNotFound          = errors.New("reminder not found")
	ErrInvalidDue        = errors.New("invalid due time")
	ErrInvalidRecurrence = errors.New("invalid recurrence")
	ErrEmptyMessage      = errors.New("reminder message is empty")
	ErrNotRecurring      = errors.New("reminder is not recurring")
	ErrPastDue           = errors.New("due time is in the past")
)

// DisplayLayout is used whenever a local time is shown to a user.
const DisplayLayout = "2006-01-02 15:04 MST"

// PastDueError carries both local times so callers can show them.
type PastDueError struct {
	Due time.Time
	Now time.Time
}

func (e *PastDueError) Error() string {
	return fmt.Sprintf("the time %s has already passed (now %s)",
		e.Due.Format(DisplayLayout), e.Now.Format(DisplayLayout))
}

func (e *PastDueError) Unwrap() error { return ErrPastDue }
