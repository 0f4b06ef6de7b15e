package datetime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAcceptedLayouts(t *testing.T) {
	t.Parallel()
	want := New(2025, 3, 15, 8, 30, 0)
	for _, raw := range []string{
		"2025-03-15 08:30:00",
		"2025/03/15 08:30:00",
		"2025-03-15T08:30:00",
		"  2025-03-15 08:30:00\r\n",
		"2025-3-15 8:30:0",
	} {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			got, err := Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "invalid month", raw: "2099-13-01 00:00:00", want: ErrOutOfRange},
		{name: "year too early", raw: "1999-12-31 23:59:59", want: ErrOutOfRange},
		{name: "year too late", raw: "2100-01-01 00:00:00", want: ErrOutOfRange},
		{name: "day zero", raw: "2025-01-00 00:00:00", want: ErrOutOfRange},
		{name: "hour 24", raw: "2025-01-01 24:00:00", want: ErrOutOfRange},
		{name: "minute 60", raw: "2025-01-01 00:60:00", want: ErrOutOfRange},
		{name: "second 60", raw: "2025-01-01 00:00:60", want: ErrOutOfRange},
		{name: "missing seconds", raw: "2025-01-01 00:00", want: ErrBadFormat},
		{name: "date only", raw: "2025-01-01", want: ErrBadFormat},
		{name: "slash with T", raw: "2025/01/01T00:00:00", want: ErrBadFormat},
		{name: "mixed separators", raw: "2025-01/01 00:00:00", want: ErrBadFormat},
		{name: "trailing garbage", raw: "2025-01-01 00:00:00 extra", want: ErrBadFormat},
		{name: "empty", raw: "   ", want: ErrBadFormat},
		{name: "text", raw: "status", want: ErrBadFormat},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseAcceptsNonCalendarDay(t *testing.T) {
	t.Parallel()
	got, err := Parse("2025-02-30 12:00:00")
	require.NoError(t, err)
	assert.Equal(t, uint8(30), got.Day)
}

func TestDateAfterShortCircuits(t *testing.T) {
	t.Parallel()
	jan31 := New(2025, 1, 31, 23, 59, 59)
	feb1 := New(2025, 2, 1, 0, 0, 0)

	assert.True(t, feb1.DateAfter(jan31))
	assert.False(t, jan31.DateAfter(feb1))
	assert.False(t, feb1.DateAfter(feb1), "equal dates are not later")
	assert.False(t, New(2025, 2, 1, 23, 0, 0).DateAfter(feb1), "time of day is ignored")
	assert.True(t, New(2026, 1, 1, 0, 0, 0).DateAfter(New(2025, 12, 31, 0, 0, 0)))
}

func TestAfterComparesTimeOfDay(t *testing.T) {
	t.Parallel()
	a := New(2025, 5, 5, 10, 0, 1)
	b := New(2025, 5, 5, 10, 0, 0)
	assert.True(t, a.After(b))
	assert.False(t, b.After(a))
	assert.False(t, a.After(a))
	assert.False(t, New(2025, 5, 4, 23, 59, 59).After(b))
}

func TestDayBefore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want DateTime
	}{
		{New(2025, 3, 15, 8, 30, 0), New(2025, 3, 14, 0, 0, 0)},
		{New(2025, 3, 1, 8, 30, 0), New(2025, 2, 28, 0, 0, 0)},
		{New(2024, 3, 1, 0, 0, 0), New(2024, 2, 29, 0, 0, 0)},
		{New(2025, 1, 1, 0, 0, 0), New(2024, 12, 31, 0, 0, 0)},
		{New(2025, 2, 30, 0, 0, 0), New(2025, 2, 29, 0, 0, 0)},
		{New(2000, 1, 1, 0, 0, 0), New(1999, 12, 31, 0, 0, 0)},
	}
	for _, tt := range tests {
		got := tt.in.DayBefore()
		assert.Equal(t, tt.want, got, "DayBefore(%s)", tt.in)
		assert.True(t, tt.in.DateAfter(got), "DayBefore(%s) must sort earlier", tt.in)
	}
}

func TestDayBeforeLiteralDoesNotBorrow(t *testing.T) {
	t.Parallel()
	got := New(2025, 3, 1, 12, 0, 0).DayBeforeLiteral()
	assert.Equal(t, New(2025, 3, 0, 0, 0, 0), got)
}

func TestStringAndTime(t *testing.T) {
	t.Parallel()
	dt := New(2025, 3, 5, 7, 8, 9)
	assert.Equal(t, "2025-03-05 07:08:09", dt.String())
	assert.Equal(t, "2025-03-05", dt.DateString())

	tm := dt.Time(time.UTC)
	assert.Equal(t, dt, FromTime(tm))
}

func TestValidateReportsField(t *testing.T) {
	t.Parallel()
	err := New(2025, 1, 1, 0, 0, 99).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.Contains(t, err.Error(), "second=99")
}
