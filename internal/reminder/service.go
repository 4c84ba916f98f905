package reminder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	logx "remindbot/pkg/logx"
)

// Store is the persistence contract the reminder core depends on.
// Every mutation is a single atomic per-record operation.
type Store interface {
	CreateReminder(ctx context.Context, r Reminder) (string, error)
	// FindActive returns uncompleted reminders; an empty ownerID means all owners.
	FindActive(ctx context.Context, ownerID string) ([]Reminder, error)
	FindByID(ctx context.Context, id string) (Reminder, bool, error)
	// UpdateIf applies patch only when the stored record matches cond.
	// It returns false when the record is missing or does not match.
	UpdateIf(ctx context.Context, id string, cond Cond, patch Patch) (bool, error)
	// DeleteReminder hard-deletes an owner's reminder and appends a deletion record.
	DeleteReminder(ctx context.Context, ownerID, id string) (bool, error)
	ListHistory(ctx context.Context, ownerID string, limit int) ([]Reminder, error)
}

// ZoneResolver maps an owner to a location. It never fails; unknown owners get UTC.
type ZoneResolver interface {
	Resolve(ctx context.Context, ownerID string) *time.Location
}

// NewReminder is the validated input of Create.
type NewReminder struct {
	OwnerID    string
	ChatID     int64
	Message    string
	Due        time.Time
	Recurrence Recurrence
}

// Service exposes the user-facing reminder operations.
type Service struct {
	store Store
	zones ZoneResolver
	log   logx.Logger
	now   func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, zones ZoneResolver, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, zones: zones, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Location returns the owner's current zone.
func (s *Service) Location(ctx context.Context, ownerID string) *time.Location {
	if s.zones == nil {
		return time.UTC
	}
	if loc := s.zones.Resolve(ctx, ownerID); loc != nil {
		return loc
	}
	return time.UTC
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Create validates in against the owner's local time and stores it.
func (s *Service) Create(ctx context.Context, in NewReminder) (Reminder, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return Reminder{}, ErrEmptyMessage
	}
	if in.Due.IsZero() {
		return Reminder{}, ErrInvalidDue
	}
	rec := in.Recurrence
	if rec == "" {
		rec = RecurrenceNone
	}
	if _, err := ParseRecurrence(string(rec)); err != nil {
		return Reminder{}, err
	}

	now := s.now()
	loc := s.Location(ctx, in.OwnerID)
	due := Naive(in.Due)
	if err := ValidateNotPast(due, now, loc); err != nil {
		return Reminder{}, err
	}

	r := Reminder{
		OwnerID:    in.OwnerID,
		ChatID:     in.ChatID,
		Message:    msg,
		Due:        due,
		Recurrence: rec,
		Status:     StatusCreated,
		CreatedAt:  now.UTC(),
	}
	id, err := s.store.CreateReminder(ctx, r)
	if err != nil {
		return Reminder{}, fmt.Errorf("create reminder: %w", err)
	}
	r.ID = id
	s.log.Info("reminder created",
		logx.String("id", id),
		logx.String("owner", in.OwnerID),
		logx.String("recurrence", string(rec)),
		logx.String("due", Resolve(r, loc).Format(DisplayLayout)),
	)
	return r, nil
}

// List returns the owner's active reminders ordered by due time.
func (s *Service) List(ctx context.Context, ownerID string) ([]Reminder, error) {
	items, err := s.store.FindActive(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	sortByDue(items)
	return items, nil
}

// History returns the owner's most recently completed reminders.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 10
	}
	items, err := s.store.ListHistory(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("reminder history: %w", err)
	}
	return items, nil
}

// Get returns an owner's reminder.
func (s *Service) Get(ctx context.Context, ownerID, id string) (Reminder, error) {
	r, ok, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Reminder{}, fmt.Errorf("get reminder: %w", err)
	}
	if !ok || r.OwnerID != ownerID {
		return Reminder{}, ErrNotFound
	}
	return r, nil
}

// Delete removes an owner's reminder.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	ok, err := s.store.DeleteReminder(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	s.log.Info("reminder deleted", logx.String("id", id), logx.String("owner", ownerID))
	return nil
}

// Complete marks an active reminder completed. It reports false when the
// reminder is gone or another trigger completed it first.
func (s *Service) Complete(ctx context.Context, id string) (bool, error) {
	ok, err := s.store.UpdateIf(ctx, id, Cond{Completed: Bool(false)}, Patch{Completed: Bool(true)})
	if err != nil {
		return false, fmt.Errorf("complete reminder: %w", err)
	}
	return ok, nil
}

func sortByDue(items []Reminder) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Due.Equal(items[j].Due) {
			return items[i].Due.Before(items[j].Due)
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
