package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Users persists the user registry and zone bindings.
type Users interface {
	GetUser(ctx context.Context, id string) (User, bool, error)
	// UpsertUser registers a user, keeping registration time and zone of an
	// existing record.
	UpsertUser(ctx context.Context, u User) error
	SetTimezone(ctx context.Context, id, zone string) error
}

// Store is the persistence API used by the app.
type Store interface {
	reminder.Store
	Users

	AppendLog(ctx context.Context, e LogEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store. Failing to reach the backend is
// returned as an error; callers treat it as fatal.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	case "mongo", "mongodb":
		return openMongo(ctx, cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
