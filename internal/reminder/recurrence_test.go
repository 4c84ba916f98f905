package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvance(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 31, 8, 15, 0, 0, time.UTC)

	tests := []struct {
		kind Recurrence
		want time.Time
	}{
		{RecurrenceDaily, base.AddDate(0, 0, 1)},
		{RecurrenceWeekly, base.AddDate(0, 0, 7)},
		{RecurrenceMonthly, base.AddDate(0, 0, 28)},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := Advance(base, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdvance_MonthlyIsTwentyEightDays(t *testing.T) {
	t.Parallel()
	got, err := Advance(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), RecurrenceMonthly)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), got)
}

func TestAdvance_NoneIsRejected(t *testing.T) {
	t.Parallel()
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := Advance(due, RecurrenceNone)
	assert.ErrorIs(t, err, ErrNotRecurring)
	assert.Equal(t, due, got)

	_, err = Advance(due, Recurrence("hourly"))
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
}

func TestParseRecurrence(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Recurrence{
		"":        RecurrenceNone,
		"Daily":   RecurrenceDaily,
		" week ":  RecurrenceWeekly,
		"MONTHLY": RecurrenceMonthly,
	} {
		got, err := ParseRecurrence(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRecurrence("yearly")
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
}

func TestRecurrenceLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "One-time", RecurrenceNone.Label())
	assert.Equal(t, "Weekly", RecurrenceWeekly.Label())
}
