package storage

import (
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"remindbot/internal/reminder"
)

// sqliteTimeLayout is fixed width so stored values compare correctly as text.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

var errEmptyPatch = errors.New("storage: empty patch")

var reminderColumns = []string{
	"id", "owner_id", "chat_id", "message", "due", "zone", "recurrence",
	"completed", "status", "delivered_at", "created_at",
}

var userColumns = []string{"id", "username", "first_name", "last_name", "timezone", "registered_at"}

// dialect builds the statements shared by the SQL backends.
type dialect struct {
	ph sq.PlaceholderFormat
	ts func(time.Time) any
}

var (
	sqliteDialect = dialect{
		ph: sq.Question,
		ts: func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	}
	postgresDialect = dialect{
		ph: sq.Dollar,
		ts: func(t time.Time) any { return t.UTC() },
	}
)

func (d dialect) sb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.ph)
}

func (d dialect) tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.ts(*t)
}

func (d dialect) insertReminder(r reminder.Reminder) sq.InsertBuilder {
	return d.sb().Insert("reminders").
		Columns(reminderColumns...).
		Values(r.ID, r.OwnerID, r.ChatID, r.Message, d.ts(reminder.Naive(r.Due)), r.Zone,
			string(r.Recurrence), r.Completed, string(r.Status), d.tsPtr(r.DeliveredAt), d.ts(r.CreatedAt))
}

func (d dialect) selectReminders() sq.SelectBuilder {
	return d.sb().Select(reminderColumns...).From("reminders")
}

func (d dialect) findActive(ownerID string) sq.SelectBuilder {
	q := d.selectReminders().Where(sq.Eq{"completed": false})
	if ownerID != "" {
		q = q.Where(sq.Eq{"owner_id": ownerID})
	}
	return q.OrderBy("due ASC", "created_at ASC")
}

func (d dialect) findByID(id string) sq.SelectBuilder {
	return d.selectReminders().Where(sq.Eq{"id": id}).Limit(1)
}

func (d dialect) history(ownerID string, limit int) sq.SelectBuilder {
	return d.selectReminders().
		Where(sq.Eq{"owner_id": ownerID, "completed": true}).
		OrderBy("completed_at DESC").
		Limit(uint64(limit))
}

// updateIf renders a single conditional UPDATE. Success is one affected row.
func (d dialect) updateIf(id string, cond reminder.Cond, patch reminder.Patch, now time.Time) (sq.UpdateBuilder, error) {
	if patch.Empty() {
		return sq.UpdateBuilder{}, errEmptyPatch
	}
	u := d.sb().Update("reminders").Where(sq.Eq{"id": id})

	if patch.Completed != nil {
		u = u.Set("completed", *patch.Completed)
		if *patch.Completed {
			u = u.Set("completed_at", d.ts(now))
		} else {
			u = u.Set("completed_at", nil)
		}
	}
	if patch.Due != nil {
		u = u.Set("due", d.ts(reminder.Naive(*patch.Due)))
	}
	if patch.DeliveredAt != nil {
		u = u.Set("delivered_at", d.ts(*patch.DeliveredAt))
	}

	if cond.Completed != nil {
		u = u.Where(sq.Eq{"completed": *cond.Completed})
	}
	if cond.Due != nil {
		u = u.Where(sq.Eq{"due": d.ts(reminder.Naive(*cond.Due))})
	}
	if cond.Undelivered {
		u = u.Where(sq.Eq{"delivered_at": nil})
	}
	return u, nil
}

func (d dialect) deleteReminder(ownerID, id string) sq.DeleteBuilder {
	return d.sb().Delete("reminders").Where(sq.Eq{"id": id, "owner_id": ownerID})
}

func (d dialect) insertDeletion(rec DeletionRecord) sq.InsertBuilder {
	return d.sb().Insert("reminder_log").
		Columns("owner_id", "reminder_id", "status", "at").
		Values(rec.OwnerID, rec.ReminderID, rec.Status, d.ts(rec.At))
}

func (d dialect) selectUser(id string) sq.SelectBuilder {
	return d.sb().Select(userColumns...).From("users").Where(sq.Eq{"id": id}).Limit(1)
}

func (d dialect) upsertUser(u User) sq.InsertBuilder {
	tz := u.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return d.sb().Insert("users").
		Columns(userColumns...).
		Values(u.ID, u.Username, u.FirstName, u.LastName, tz, d.ts(u.RegisteredAt)).
		Suffix("ON CONFLICT (id) DO UPDATE SET username = excluded.username, first_name = excluded.first_name, last_name = excluded.last_name")
}

func (d dialect) setTimezone(id, zone string, now time.Time) sq.InsertBuilder {
	return d.sb().Insert("users").
		Columns(userColumns...).
		Values(id, "", "", "", zone, d.ts(now)).
		Suffix("ON CONFLICT (id) DO UPDATE SET timezone = excluded.timezone")
}

func (d dialect) insertLog(e LogEntry) sq.InsertBuilder {
	return d.sb().Insert("logs").
		Columns("level", "message", "module", "at").
		Values(e.Level, e.Message, e.Module, d.ts(e.At))
}

func (d dialect) putDedup(key string, until time.Time) sq.InsertBuilder {
	return d.sb().Insert("dedup").
		Columns("key", "until").
		Values(key, until.UnixMilli()).
		Suffix("ON CONFLICT (key) DO UPDATE SET until = excluded.until")
}

func (d dialect) getDedup(key string) sq.SelectBuilder {
	return d.sb().Select("until").From("dedup").Where(sq.Eq{"key": key})
}

func (d dialect) pruneDedup(now time.Time) sq.DeleteBuilder {
	return d.sb().Delete("dedup").Where(sq.Lt{"until": now.UnixMilli()})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (reminder.Reminder, error) {
	var (
		r                       reminder.Reminder
		due, delivered, created dbTime
		rec, status             string
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.ChatID, &r.Message, &due, &r.Zone, &rec,
		&r.Completed, &status, &delivered, &created)
	if err != nil {
		return reminder.Reminder{}, err
	}
	r.Due = reminder.Naive(due.Time)
	r.Recurrence = reminder.Recurrence(rec)
	r.Status = reminder.Status(status)
	r.CreatedAt = created.Time.UTC()
	if delivered.Valid {
		at := delivered.Time.UTC()
		r.DeliveredAt = &at
	}
	return r, nil
}

func scanUser(row rowScanner) (User, error) {
	var (
		u   User
		reg dbTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Timezone, &reg); err != nil {
		return User{}, err
	}
	u.RegisteredAt = reg.Time.UTC()
	return u, nil
}

// dbTime scans both native timestamps and the sqlite text encoding.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("storage: cannot scan %T into time", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = v, true
			return nil
		}
	}
	return fmt.Errorf("storage: invalid time %q", s)
}
