package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, openTestSQLite)
}

func TestSQLiteStore_DeleteWritesDeletionRecord(t *testing.T) {
	st := openTestSQLite(t).(*sqliteStore)
	ctx := context.Background()

	id, err := st.CreateReminder(ctx, reminder.Reminder{OwnerID: "a", Message: "x", Recurrence: reminder.RecurrenceNone})
	require.NoError(t, err)
	ok, err := st.DeleteReminder(ctx, "a", id)
	require.NoError(t, err)
	require.True(t, ok)

	var owner, status string
	err = st.db.QueryRowContext(ctx, `SELECT owner_id, status FROM reminder_log WHERE reminder_id = ?`, id).Scan(&owner, &status)
	require.NoError(t, err)
	assert.Equal(t, "a", owner)
	assert.Equal(t, "deleted", status)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	st, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	id, err := st.CreateReminder(ctx, reminder.Reminder{OwnerID: "a", Message: "x", Recurrence: reminder.RecurrenceNone})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	_, ok, err := st.FindByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "etcd"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: "none"}, logx.Nop())
	assert.ErrorIs(t, err, ErrDisabled)
}
