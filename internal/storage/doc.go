// Package storage persists reminders, users, deletion records, logs and
// notifier dedup state.
//
// SQL backends (sqlite, postgres) share their statements through squirrel
// builders; the mongo backend maps the same operations onto collections.
// Reminder mutations are single conditional statements so concurrent
// completion triggers are settled by the database.
package storage
