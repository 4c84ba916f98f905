package reminder

import "time"

// Recurrence is the repeat cadence of a reminder.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Status mirrors the lifecycle label kept next to Completed.
type Status string

const (
	StatusCreated Status = "created"
	StatusDeleted Status = "deleted"
)

// Reminder is a single scheduled notification owned by one user.
//
// Due holds wall-clock fields only. When Zone is empty the reminder is
// floating: it is interpreted in the owner's zone at evaluation time, so a
// zone change moves it along with the owner.
type Reminder struct {
	ID          string
	OwnerID     string
	ChatID      int64
	Message     string
	Due         time.Time
	Zone        string
	Recurrence  Recurrence
	Completed   bool
	Status      Status
	DeliveredAt *time.Time
	CreatedAt   time.Time
}

// Active reports whether the reminder is still eligible for due evaluation.
func (r Reminder) Active() bool { return !r.Completed }

// OneShot reports whether the reminder fires once and then needs confirmation.
func (r Reminder) OneShot() bool {
	return r.Recurrence == "" || r.Recurrence == RecurrenceNone
}

// Cond is the predicate a conditional update must match.
// Nil fields are not checked.
type Cond struct {
	Completed *bool
	// Due matches the stored wall clock exactly.
	Due *time.Time
	// Undelivered requires DeliveredAt to be unset.
	Undelivered bool
}

// Patch lists the fields a conditional update writes. Nil fields are kept.
type Patch struct {
	Completed   *bool
	Due         *time.Time
	DeliveredAt *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Completed == nil && p.Due == nil && p.DeliveredAt == nil
}

// Bool returns a pointer to v, for Cond and Patch literals.
func Bool(v bool) *bool { return &v }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }

// Naive drops the location of t and keeps its wall clock, as stored in Due.
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Matches reports whether r satisfies c. Stores without native predicates
// use it to evaluate a condition inside their own transaction.
func (c Cond) Matches(r Reminder) bool {
	if c.Completed != nil && r.Completed != *c.Completed {
		return false
	}
	if c.Due != nil && !Naive(r.Due).Equal(Naive(*c.Due)) {
		return false
	}
	if c.Undelivered && r.DeliveredAt != nil {
		return false
	}
	return true
}
