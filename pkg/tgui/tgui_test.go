package tgui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()
	d := Data("tz", "set", "America/New_York")
	assert.Equal(t, "tz:set:America/New_York", d)
	require.NoError(t, CheckData(d))

	cb, ok := ParseData(d)
	require.True(t, ok)
	assert.Equal(t, Callback{NS: "tz", Action: "set", Payload: "America/New_York"}, cb)

	cb, ok = ParseData("menu:back")
	require.True(t, ok)
	assert.Empty(t, cb.Payload)

	_, ok = ParseData("garbage")
	assert.False(t, ok)
	assert.ErrorIs(t, CheckData(string(make([]byte, 65))), ErrCallbackDataTooLong)
}

func TestBuilder_EscapesAndAttachesMarkup(t *testing.T) {
	t.Parallel()
	kb := NewInline().Column(Btn("a", "x:a"), Btn("b", "x:b"))
	msg := New().Title("📋", "Your <reminders>").Line("tea & cake").Inline(kb).Build()

	assert.Equal(t, "📋 <b>Your &lt;reminders&gt;</b>\ntea &amp; cake", msg.Text)
	assert.Equal(t, "HTML", msg.Opt.ParseMode)
	assert.Same(t, kb.Markup(), msg.Opt.Markup)
	assert.Len(t, kb.Markup().InlineKeyboard, 2)

	empty := New().Line("x").Inline(NewInline()).Build()
	assert.Nil(t, empty.Opt.Markup)
}

func TestReplyMenu(t *testing.T) {
	t.Parallel()
	rm := ReplyMenu([]string{"New reminder", "My reminders"}, []string{"Settings"})
	require.Len(t, rm.ReplyKeyboard, 2)
	assert.Equal(t, "My reminders", rm.ReplyKeyboard[0][1].Text)
	assert.True(t, rm.ResizeKeyboard)
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "héllo", TruncRunes("héllo", 5))
	assert.Equal(t, "hé…", TruncRunes("héllo", 3))
	assert.Empty(t, TruncRunes("x", 0))
}

func TestSessions_Expire(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessions[string](time.Minute)
	s.now = func() time.Time { return now }

	s.Put(1, "awaiting_due")
	v, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "awaiting_due", v)

	now = now.Add(50 * time.Second)
	_, ok = s.Get(1)
	assert.True(t, ok, "get refreshes expiry")

	now = now.Add(2 * time.Minute)
	_, ok = s.Get(1)
	assert.False(t, ok)

	s.Put(2, "x")
	assert.True(t, s.Delete(2))
	assert.False(t, s.Delete(2))
}
