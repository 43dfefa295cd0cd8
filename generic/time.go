package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day (leave is booked in whole days)
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day at UTC midnight. The time-of-day part is always zero,
// so two Dates for the same day compare equal.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for fixtures; it panics on malformed input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

func (d Date) IsZero() bool   { return d.Time.IsZero() }
func (d Date) String() string { return d.Time.Format(DateLayout) }

// =============================================================================
// DAY COUNTING
// =============================================================================

// DaysBetween returns the whole days from start to end (negative if end is
// earlier). It works on Unix seconds; a time.Duration overflows past ~292
// years.
func DaysBetween(start, end Date) int {
	return int((end.Time.Unix() - start.Time.Unix()) / 86400)
}

// InclusiveDays counts both endpoints: the same day twice is 1 day,
// Jan 15 to Jan 17 is 3. Weekends and holidays are not excluded.
func InclusiveDays(start, end Date) int {
	return DaysBetween(start, end) + 1
}
