package reminder

import (
	"fmt"
	"strings"
	"time"
)

// InputLayout is the date format users type when creating a reminder.
const InputLayout = "2006-01-02 15:04"

// ParseDue parses user input into a floating wall-clock due value.
func ParseDue(s string) (time.Time, error) {
	t, err := time.Parse(InputLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expected YYYY-MM-DD HH:MM", ErrInvalidDue)
	}
	return t, nil
}

// ValidateNotPast rejects a due wall clock that is earlier than now in loc.
func ValidateNotPast(due, now time.Time, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	at := Resolve(Reminder{Due: due}, loc)
	local := now.In(loc)
	if at.Before(local) {
		return &PastDueError{Due: at, Now: local}
	}
	return nil
}
