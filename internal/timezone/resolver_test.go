package timezone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

type users map[string]storage.User

func (u users) GetUser(_ context.Context, id string) (storage.User, bool, error) {
	if id == "boom" {
		return storage.User{}, false, errors.New("store down")
	}
	v, ok := u[id]
	return v, ok, nil
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	src := users{
		"msk": {ID: "msk", Timezone: "Europe/Moscow"},
		"bad": {ID: "bad", Timezone: "Nowhere/Land"},
		"nil": {ID: "nil"},
	}
	r := New(src, "", logx.Nop())
	ctx := context.Background()

	assert.Equal(t, "Europe/Moscow", r.Name(ctx, "msk"))
	assert.Equal(t, time.UTC, r.Resolve(ctx, "bad"))
	assert.Equal(t, time.UTC, r.Resolve(ctx, "nil"))
	assert.Equal(t, time.UTC, r.Resolve(ctx, "missing"))
	assert.Equal(t, time.UTC, r.Resolve(ctx, "boom"))
}

func TestResolver_ForgetRefreshes(t *testing.T) {
	t.Parallel()
	src := users{"u": {ID: "u", Timezone: "Asia/Tokyo"}}
	r := New(src, "UTC", logx.Nop())
	ctx := context.Background()

	assert.Equal(t, "Asia/Tokyo", r.Name(ctx, "u"))
	src["u"] = storage.User{ID: "u", Timezone: "America/New_York"}
	assert.Equal(t, "Asia/Tokyo", r.Name(ctx, "u"))

	r.Forget("u")
	assert.Equal(t, "America/New_York", r.Name(ctx, "u"))
}

type flakyUsers struct {
	users
	down bool
}

func (f *flakyUsers) GetUser(ctx context.Context, id string) (storage.User, bool, error) {
	if f.down {
		return storage.User{}, false, errors.New("store down")
	}
	return f.users.GetUser(ctx, id)
}

func TestResolver_StoreErrorNotCached(t *testing.T) {
	t.Parallel()
	src := &flakyUsers{users: users{"ny": {ID: "ny", Timezone: "America/New_York"}}, down: true}
	r := New(src, "", logx.Nop())
	ctx := context.Background()

	assert.Equal(t, time.UTC, r.Resolve(ctx, "ny"))

	src.down = false
	assert.Equal(t, "America/New_York", r.Name(ctx, "ny"))
}

func TestValid(t *testing.T) {
	t.Parallel()
	for _, z := range Presets {
		assert.True(t, Valid(z), z)
	}
	assert.False(t, Valid(""))
	assert.False(t, Valid("Mars/Base"))
}

func TestResolver_SetFallback(t *testing.T) {
	t.Parallel()
	r := New(users{}, "", logx.Nop())
	ctx := context.Background()

	assert.Equal(t, "UTC", r.Name(ctx, "missing"))
	assert.Error(t, r.SetFallback("Mars/Base"))
	assert.NoError(t, r.SetFallback("Europe/Moscow"))
	assert.Equal(t, "Europe/Moscow", r.Name(ctx, "missing"))
}
