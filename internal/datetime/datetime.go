package datetime

import (
	"fmt"
	"time"
)

// Supported year window for clock readings and operator input.
const (
	MinYear = 2000
	MaxYear = 2099
)

// Epoch is the sentinel shown when no execution has ever been recorded.
var Epoch = DateTime{Year: 2000, Month: 1, Day: 1}

// DateTime is a wall-clock reading without timezone or sub-second precision.
//
// Fields are stored with the same widths the RTC and the ledger record use.
// A DateTime is a plain value: it is never range-checked implicitly; callers
// that accept external input go through Parse or Validate.
type DateTime struct {
	Year   uint16
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// New builds a DateTime from ints. Values are truncated to field width.
func New(year, month, day, hour, minute, second int) DateTime {
	return DateTime{
		Year:   uint16(year),
		Month:  uint8(month),
		Day:    uint8(day),
		Hour:   uint8(hour),
		Minute: uint8(minute),
		Second: uint8(second),
	}
}

// FromTime takes the wall-clock fields of t in its own location.
func FromTime(t time.Time) DateTime {
	return New(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// Time converts to a time.Time in loc. Out-of-range fields are normalized
// the way time.Date does it (Feb 30 becomes Mar 2).
func (dt DateTime) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(int(dt.Year), time.Month(dt.Month), int(dt.Day),
		int(dt.Hour), int(dt.Minute), int(dt.Second), 0, loc)
}

func (dt DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		dt.Year, dt.Month, dt.Day, dt.Hour, dt.Minute, dt.Second)
}

// DateString renders only the date part.
func (dt DateTime) DateString() string {
	return fmt.Sprintf("%04d-%02d-%02d", dt.Year, dt.Month, dt.Day)
}

func (dt DateTime) IsZero() bool { return dt == DateTime{} }

// SameDate reports whether both readings fall on the same calendar day.
func (dt DateTime) SameDate(o DateTime) bool {
	return dt.Year == o.Year && dt.Month == o.Month && dt.Day == o.Day
}

// DateAfter reports whether dt's date is strictly later than o's date.
// Fields are compared in order and the first differing field decides.
func (dt DateTime) DateAfter(o DateTime) bool {
	if dt.Year != o.Year {
		return dt.Year > o.Year
	}
	if dt.Month != o.Month {
		return dt.Month > o.Month
	}
	return dt.Day > o.Day
}

// After reports whether dt is strictly later than o, to the second.
func (dt DateTime) After(o DateTime) bool {
	if dt.DateAfter(o) {
		return true
	}
	if !dt.SameDate(o) {
		return false
	}
	if dt.Hour != o.Hour {
		return dt.Hour > o.Hour
	}
	if dt.Minute != o.Minute {
		return dt.Minute > o.Minute
	}
	return dt.Second > o.Second
}

// Midnight keeps the date and zeroes the time of day.
func (dt DateTime) Midnight() DateTime {
	return DateTime{Year: dt.Year, Month: dt.Month, Day: dt.Day}
}

// DayBefore returns midnight of the previous day.
//
// The day field is decremented in place while it is above 1, so dates the
// operator may enter but the calendar lacks (Feb 30) still step back to a
// date that sorts strictly earlier. Day 1 borrows the last day of the
// previous month, and January borrows from the previous year.
func (dt DateTime) DayBefore() DateTime {
	out := dt.Midnight()
	if out.Day > 1 {
		out.Day--
		return out
	}
	if out.Month <= 1 {
		out.Year--
		out.Month = 12
	} else {
		out.Month--
	}
	out.Day = uint8(DaysIn(int(out.Year), int(out.Month)))
	return out
}

// DayBeforeLiteral decrements the day field without borrowing: day 1 turns
// into day 0. Legacy controllers wrote this on manual resets.
func (dt DateTime) DayBeforeLiteral() DateTime {
	out := dt.Midnight()
	out.Day--
	return out
}

// DaysIn returns the number of days in month of year.
func DaysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Validate checks operator-facing ranges. Day is not calendar aware.
func (dt DateTime) Validate() error {
	switch {
	case dt.Year < MinYear || dt.Year > MaxYear:
		return rangeErr("year", int(dt.Year), MinYear, MaxYear)
	case dt.Month < 1 || dt.Month > 12:
		return rangeErr("month", int(dt.Month), 1, 12)
	case dt.Day < 1 || dt.Day > 31:
		return rangeErr("day", int(dt.Day), 1, 31)
	case dt.Hour > 23:
		return rangeErr("hour", int(dt.Hour), 0, 23)
	case dt.Minute > 59:
		return rangeErr("minute", int(dt.Minute), 0, 59)
	case dt.Second > 59:
		return rangeErr("second", int(dt.Second), 0, 59)
	}
	return nil
}

func rangeErr(field string, v, lo, hi int) error {
	return fmt.Errorf("%w: %s=%d not in %d..%d", ErrOutOfRange, field, v, lo, hi)
}
