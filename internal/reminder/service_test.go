package reminder

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "remindbot/pkg/logx"
)

type fakeStore struct {
	mu      sync.Mutex
	seq     int
	items   map[string]Reminder
	deleted []string
}

func newFakeStore() *fakeStore { return &fakeStore{items: map[string]Reminder{}} }

func (f *fakeStore) CreateReminder(_ context.Context, r Reminder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	r.ID = strconv.Itoa(f.seq)
	f.items[r.ID] = r
	return r.ID, nil
}

func (f *fakeStore) FindActive(_ context.Context, ownerID string) ([]Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reminder
	for _, r := range f.items {
		if !r.Completed && (ownerID == "" || r.OwnerID == ownerID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) FindByID(_ context.Context, id string) (Reminder, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.items[id]
	return r, ok, nil
}

func (f *fakeStore) UpdateIf(_ context.Context, id string, cond Cond, patch Patch) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.items[id]
	if !ok || !cond.Matches(r) {
		return false, nil
	}
	if patch.Completed != nil {
		r.Completed = *patch.Completed
	}
	if patch.Due != nil {
		r.Due = *patch.Due
	}
	if patch.DeliveredAt != nil {
		r.DeliveredAt = patch.DeliveredAt
	}
	f.items[id] = r
	return true, nil
}

func (f *fakeStore) DeleteReminder(_ context.Context, ownerID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.items[id]
	if !ok || r.OwnerID != ownerID {
		return false, nil
	}
	delete(f.items, id)
	f.deleted = append(f.deleted, id)
	return true, nil
}

func (f *fakeStore) ListHistory(_ context.Context, ownerID string, limit int) ([]Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reminder
	for _, r := range f.items {
		if r.Completed && r.OwnerID == ownerID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type staticZones map[string]*time.Location

func (z staticZones) Resolve(_ context.Context, ownerID string) *time.Location {
	if loc, ok := z[ownerID]; ok {
		return loc
	}
	return time.UTC
}

func newTestService(t *testing.T, now time.Time) (*Service, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	zones := staticZones{"a": mustLoad(t, "Europe/Moscow")}
	return NewService(st, zones, logx.Nop(), WithClock(func() time.Time { return now })), st
}

func TestService_Create(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC) // 10:00 MSK
	svc, st := newTestService(t, now)
	ctx := context.Background()

	r, err := svc.Create(ctx, NewReminder{
		OwnerID: "a",
		Message: "  buy milk ",
		Due:     time.Date(2024, 3, 1, 10, 1, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "buy milk", r.Message)
	assert.Equal(t, RecurrenceNone, r.Recurrence)
	assert.Equal(t, StatusCreated, r.Status)
	assert.False(t, r.Completed)
	assert.Len(t, st.items, 1)

	_, err = svc.Create(ctx, NewReminder{OwnerID: "a", Message: "late", Due: time.Date(2024, 3, 1, 9, 59, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, ErrPastDue)

	_, err = svc.Create(ctx, NewReminder{OwnerID: "a", Message: " ", Due: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Create(ctx, NewReminder{OwnerID: "a", Message: "x", Due: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Recurrence: "hourly"})
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
	assert.Len(t, st.items, 1)
}

func TestService_DeleteScopedByOwner(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	ctx := context.Background()

	r, err := svc.Create(ctx, NewReminder{OwnerID: "a", Message: "x", Due: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "b", r.ID), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "a", r.ID))
	assert.ErrorIs(t, svc.Delete(ctx, "a", r.ID), ErrNotFound)
	assert.Equal(t, []string{r.ID}, st.deleted)
}

func TestService_CompleteOnce(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	r, err := svc.Create(ctx, NewReminder{OwnerID: "a", Message: "x", Due: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	ok, err := svc.Complete(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Complete(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	items, err := svc.List(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestService_ListOrdersByDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	for _, d := range []int{5, 2, 9} {
		_, err := svc.Create(ctx, NewReminder{OwnerID: "a", Message: "x", Due: time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)})
		require.NoError(t, err)
	}
	items, err := svc.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 2, items[0].Due.Day())
	assert.Equal(t, 9, items[2].Due.Day())
}
