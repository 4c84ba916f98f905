package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Advance returns the next occurrence after due.
//
// Monthly is a fixed 28 day step, not a calendar month.
func Advance(due time.Time, kind Recurrence) (time.Time, error) {
	switch kind {
	case RecurrenceDaily:
		return due.AddDate(0, 0, 1), nil
	case RecurrenceWeekly:
		return due.AddDate(0, 0, 7), nil
	case RecurrenceMonthly:
		return due.AddDate(0, 0, 28), nil
	case RecurrenceNone, "":
		return due, ErrNotRecurring
	default:
		return due, fmt.Errorf("%w: %q", ErrInvalidRecurrence, string(kind))
	}
}

// ParseRecurrence accepts the stored names plus the menu labels.
func ParseRecurrence(s string) (Recurrence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "once", "one-time", "no":
		return RecurrenceNone, nil
	case "daily", "day":
		return RecurrenceDaily, nil
	case "weekly", "week":
		return RecurrenceWeekly, nil
	case "monthly", "month":
		return RecurrenceMonthly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRecurrence, s)
}

// Label is the user facing name of a recurrence.
func (r Recurrence) Label() string {
	switch r {
	case RecurrenceDaily:
		return "Daily"
	case RecurrenceWeekly:
		return "Weekly"
	case RecurrenceMonthly:
		return "Monthly"
	default:
		return "One-time"
	}
}
