package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
)

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("create and find", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		due := time.Date(2030, 1, 2, 9, 30, 0, 0, time.UTC)

		id, err := st.CreateReminder(ctx, reminder.Reminder{
			OwnerID:    "u1",
			ChatID:     42,
			Message:    "buy milk",
			Due:        due,
			Recurrence: reminder.RecurrenceWeekly,
			Status:     reminder.StatusCreated,
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, ok, err := st.FindByID(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "u1", got.OwnerID)
		assert.Equal(t, int64(42), got.ChatID)
		assert.Equal(t, "buy milk", got.Message)
		assert.True(t, due.Equal(got.Due), "due %s", got.Due)
		assert.Equal(t, reminder.RecurrenceWeekly, got.Recurrence)
		assert.False(t, got.Completed)
		assert.Nil(t, got.DeliveredAt)

		_, ok, err = st.FindByID(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("find active scoped and global", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		due := time.Date(2030, 1, 2, 9, 30, 0, 0, time.UTC)

		a, err := st.CreateReminder(ctx, reminder.Reminder{OwnerID: "a", Message: "a", Due: due, Recurrence: reminder.RecurrenceNone})
		require.NoError(t, err)
		_, err = st.CreateReminder(ctx, reminder.Reminder{OwnerID: "b", Message: "b", Due: due.Add(time.Hour), Recurrence: reminder.RecurrenceNone})
		require.NoError(t, err)

		all, err := st.FindActive(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		mine, err := st.FindActive(ctx, "a")
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, a, mine[0].ID)

		ok, err := st.UpdateIf(ctx, a, reminder.Cond{Completed: reminder.Bool(false)}, reminder.Patch{Completed: reminder.Bool(true)})
		require.NoError(t, err)
		require.True(t, ok)

		all, err = st.FindActive(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 1)

		hist, err := st.ListHistory(ctx, "a", 10)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.True(t, hist[0].Completed)
	})

	t.Run("conditional update", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		due := time.Date(2030, 1, 2, 9, 30, 0, 0, time.UTC)
		id, err := st.CreateReminder(ctx, reminder.Reminder{OwnerID: "a", Message: "x", Due: due, Recurrence: reminder.RecurrenceDaily})
		require.NoError(t, err)

		next := due.AddDate(0, 0, 1)
		stale := due.Add(-time.Minute)
		ok, err := st.UpdateIf(ctx, id, reminder.Cond{Completed: reminder.Bool(false), Due: &stale}, reminder.Patch{Due: &next})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = st.UpdateIf(ctx, id, reminder.Cond{Completed: reminder.Bool(false), Due: &due}, reminder.Patch{Due: &next})
		require.NoError(t, err)
		assert.True(t, ok)

		got, _, err := st.FindByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, next.Equal(got.Due))

		at := time.Date(2030, 1, 3, 9, 31, 0, 0, time.UTC)
		ok, err = st.UpdateIf(ctx, id, reminder.Cond{Undelivered: true}, reminder.Patch{DeliveredAt: &at})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = st.UpdateIf(ctx, id, reminder.Cond{Undelivered: true}, reminder.Patch{DeliveredAt: &at})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = st.UpdateIf(ctx, "missing", reminder.Cond{}, reminder.Patch{Completed: reminder.Bool(true)})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent completion has one winner", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		id, err := st.CreateReminder(ctx, reminder.Reminder{OwnerID: "a", Message: "x", Due: time.Now().UTC(), Recurrence: reminder.RecurrenceNone})
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := st.UpdateIf(ctx, id, reminder.Cond{Completed: reminder.Bool(false)}, reminder.Patch{Completed: reminder.Bool(true)})
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete is owner scoped", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		id, err := st.CreateReminder(ctx, reminder.Reminder{OwnerID: "a", Message: "x", Due: time.Now().UTC(), Recurrence: reminder.RecurrenceNone})
		require.NoError(t, err)

		ok, err := st.DeleteReminder(ctx, "b", id)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = st.DeleteReminder(ctx, "a", id)
		require.NoError(t, err)
		assert.True(t, ok)

		_, found, err := st.FindByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, found)

		ok, err = st.UpdateIf(ctx, id, reminder.Cond{Completed: reminder.Bool(false)}, reminder.Patch{Completed: reminder.Bool(true)})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("users", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		_, ok, err := st.GetUser(ctx, "7")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, st.UpsertUser(ctx, User{ID: "7", Username: "kit", FirstName: "K"}))
		require.NoError(t, st.SetTimezone(ctx, "7", "Europe/Moscow"))
		require.NoError(t, st.UpsertUser(ctx, User{ID: "7", Username: "kit2"}))

		u, ok, err := st.GetUser(ctx, "7")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "kit2", u.Username)
		assert.Equal(t, "Europe/Moscow", u.Timezone)
		assert.False(t, u.RegisteredAt.IsZero())

		require.NoError(t, st.SetTimezone(ctx, "8", "Asia/Tokyo"))
		u, ok, err = st.GetUser(ctx, "8")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Asia/Tokyo", u.Timezone)
	})

	t.Run("dedup and logs", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

		require.NoError(t, st.PutDedup(ctx, "k", until))
		got, ok, err := st.GetDedup(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, until.Equal(got))

		_, ok, err = st.GetDedup(ctx, "other")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, st.AppendLog(ctx, LogEntry{Level: "warn", Message: "m", Module: "test"}))
		require.NoError(t, st.Ping(ctx))
	})
}
