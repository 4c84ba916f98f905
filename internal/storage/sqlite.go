package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations/sqlite.sql
var sqliteMigrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	d   dialect
	now func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./remindbot.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; conditional updates then serialize here.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, d: sqliteDialect, now: time.Now, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := sqliteMigrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return s.db.ExecContext(ctx, q, args...)
}

func (s *sqliteStore) CreateReminder(ctx context.Context, r reminder.Reminder) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrDisabled
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if _, err := s.exec(ctx, s.d.insertReminder(r)); err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *sqliteStore) query(ctx context.Context, b sq.SelectBuilder) ([]reminder.Reminder, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindActive(ctx context.Context, ownerID string) ([]reminder.Reminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.query(ctx, s.d.findActive(ownerID))
}

func (s *sqliteStore) ListHistory(ctx context.Context, ownerID string, limit int) ([]reminder.Reminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.query(ctx, s.d.history(ownerID, limit))
}

func (s *sqliteStore) FindByID(ctx context.Context, id string) (reminder.Reminder, bool, error) {
	if s == nil || s.db == nil {
		return reminder.Reminder{}, false, ErrDisabled
	}
	q, args, err := s.d.findByID(id).ToSql()
	if err != nil {
		return reminder.Reminder{}, false, err
	}
	r, err := scanReminder(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, false, nil
	}
	if err != nil {
		return reminder.Reminder{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) UpdateIf(ctx context.Context, id string, cond reminder.Cond, patch reminder.Patch) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	b, err := s.d.updateIf(id, cond, patch, s.now())
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx, b)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, ownerID, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	q, args, err := s.d.deleteReminder(ownerID, id).ToSql()
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	q, args, err = s.d.insertDeletion(DeletionRecord{
		OwnerID:    ownerID,
		ReminderID: id,
		Status:     string(reminder.StatusDeleted),
		At:         s.now(),
	}).ToSql()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	if s == nil || s.db == nil {
		return User{}, false, ErrDisabled
	}
	q, args, err := s.d.selectUser(id).ToSql()
	if err != nil {
		return User{}, false, err
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = s.now()
	}
	_, err := s.exec(ctx, s.d.upsertUser(u))
	return err
}

func (s *sqliteStore) SetTimezone(ctx context.Context, id, zone string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.exec(ctx, s.d.setTimezone(id, zone, s.now()))
	return err
}

func (s *sqliteStore) AppendLog(ctx context.Context, e LogEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.exec(ctx, s.d.insertLog(e))
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.exec(ctx, s.d.putDedup(key, until))
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.exec(pctx, s.d.pruneDedup(s.now()))
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	q, args, err := s.d.getDedup(key).ToSql()
	if err != nil {
		return time.Time{}, false, err
	}
	var ms int64
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
