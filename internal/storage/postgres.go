package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (goose)
	"github.com/pressly/goose/v3"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	d    dialect
	now  func() time.Time
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := migratePostgres(cctx, dsn); err != nil {
		return nil, err
	}

	pool, err := newPool(cctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("postgres store opened", logx.Int("max_conns", int(pool.Config().MaxConns)))
	return newPostgresStore(pool, log), nil
}

func newPostgresStore(pool *pgxpool.Pool, log logx.Logger) *postgresStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &postgresStore{pool: pool, log: log, d: postgresDialect, now: time.Now}
}

// newPool parses the DSN, applies pool settings and pings for fail-fast startup.
func newPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// migratePostgres applies the embedded goose migrations. goose needs *sql.DB,
// so this opens a short-lived handle through the pgx stdlib driver.
func migratePostgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("sql.Open: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	fsys, err := fs.Sub(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// mapError converts pgx/pgconn errors to storage errors.
// Context errors pass through.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: postgres %s: %w", op, pgErr.Code, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	return s.pool.Ping(ctx)
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) exec(ctx context.Context, b sq.Sqlizer) (pgconn.CommandTag, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return s.pool.Exec(ctx, q, args...)
}

func (s *postgresStore) CreateReminder(ctx context.Context, r reminder.Reminder) (string, error) {
	if s == nil || s.pool == nil {
		return "", ErrDisabled
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if _, err := s.exec(ctx, s.d.insertReminder(r)); err != nil {
		return "", mapError(err, "create reminder")
	}
	return r.ID, nil
}

func (s *postgresStore) query(ctx context.Context, b sq.SelectBuilder) ([]reminder.Reminder, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "query reminders")
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, mapError(err, "scan reminder")
		}
		out = append(out, r)
	}
	return out, mapError(rows.Err(), "query reminders")
}

func (s *postgresStore) FindActive(ctx context.Context, ownerID string) ([]reminder.Reminder, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	return s.query(ctx, s.d.findActive(ownerID))
}

func (s *postgresStore) ListHistory(ctx context.Context, ownerID string, limit int) ([]reminder.Reminder, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	return s.query(ctx, s.d.history(ownerID, limit))
}

func (s *postgresStore) FindByID(ctx context.Context, id string) (reminder.Reminder, bool, error) {
	if s == nil || s.pool == nil {
		return reminder.Reminder{}, false, ErrDisabled
	}
	q, args, err := s.d.findByID(id).ToSql()
	if err != nil {
		return reminder.Reminder{}, false, err
	}
	r, err := scanReminder(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return reminder.Reminder{}, false, nil
	}
	if err != nil {
		return reminder.Reminder{}, false, mapError(err, "find reminder")
	}
	return r, true, nil
}

func (s *postgresStore) UpdateIf(ctx context.Context, id string, cond reminder.Cond, patch reminder.Patch) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrDisabled
	}
	b, err := s.d.updateIf(id, cond, patch, s.now())
	if err != nil {
		return false, err
	}
	tag, err := s.exec(ctx, b)
	if err != nil {
		return false, mapError(err, "update reminder")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *postgresStore) DeleteReminder(ctx context.Context, ownerID, id string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrDisabled
	}
	deleted := false
	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		q, args, err := s.d.deleteReminder(ownerID, id).ToSql()
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		q, args, err = s.d.insertDeletion(DeletionRecord{
			OwnerID:    ownerID,
			ReminderID: id,
			Status:     string(reminder.StatusDeleted),
			At:         s.now(),
		}).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, mapError(err, "delete reminder")
	}
	return deleted, nil
}

// runInTx commits when fn succeeds and rolls back on error or panic.
func (s *postgresStore) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *postgresStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	if s == nil || s.pool == nil {
		return User{}, false, ErrDisabled
	}
	q, args, err := s.d.selectUser(id).ToSql()
	if err != nil {
		return User{}, false, err
	}
	u, err := scanUser(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, mapError(err, "get user")
	}
	return u, true, nil
}

func (s *postgresStore) UpsertUser(ctx context.Context, u User) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = s.now()
	}
	_, err := s.exec(ctx, s.d.upsertUser(u))
	return mapError(err, "upsert user")
}

func (s *postgresStore) SetTimezone(ctx context.Context, id, zone string) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	_, err := s.exec(ctx, s.d.setTimezone(id, zone, s.now()))
	return mapError(err, "set timezone")
}

func (s *postgresStore) AppendLog(ctx context.Context, e LogEntry) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.exec(ctx, s.d.insertLog(e))
	return mapError(err, "append log")
}

func (s *postgresStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.exec(ctx, s.d.putDedup(key, until))
	return mapError(err, "put dedup")
}

func (s *postgresStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.pool == nil {
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
	err = s.pool.QueryRow(ctx, q, args...).Scan(&ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, mapError(err, "get dedup")
	}
	return time.UnixMilli(ms), true, nil
}
