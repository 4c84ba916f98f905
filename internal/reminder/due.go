package reminder

import "time"

// Resolve returns the absolute instant of the reminder's due time.
//
// A floating reminder (no Zone) takes loc; a zoned reminder keeps its own
// zone, falling back to loc when the zone name cannot be loaded.
func Resolve(r Reminder, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if r.Zone != "" {
		if zl, err := time.LoadLocation(r.Zone); err == nil {
			loc = zl
		}
	}
	d := r.Due
	return time.Date(d.Year(), d.Month(), d.Day(), d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), loc)
}

// IsDue reports whether r should fire at now. It has no window: once true it
// stays true for every later now until the due value changes.
func IsDue(now time.Time, r Reminder, loc *time.Location) bool {
	return !now.UTC().Before(Resolve(r, loc).UTC())
}
