package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "postgres": PostgreSQL via pgx, DSN required
//   - "mongo": MongoDB, DSN (URI) and Database required
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Database    string
	BusyTimeout time.Duration // sqlite only; 0 means default

	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// User is a registered bot user.
type User struct {
	ID           string
	Username     string
	FirstName    string
	LastName     string
	Timezone     string
	RegisteredAt time.Time
}

// LogEntry is a persisted log record.
type LogEntry struct {
	Level   string
	Message string
	Module  string
	At      time.Time
}

// DeletionRecord is appended whenever a reminder is deleted.
// It is write-only from the bot's point of view.
type DeletionRecord struct {
	OwnerID    string
	ReminderID string
	Status     string
	At         time.Time
}
