// Package dates normalizes calendar dates against the marina's canonical time zone.
//
// Calendar dates are stored as UTC midnight of the wall-clock date observed in
// the canonical zone, so equality and ordering reduce to time comparisons.
package dates

import (
	"time"

	"github.com/jinzhu/now"
)

const Layout = "2006-01-02"

// Normalize returns the calendar date of t, as observed in loc, at UTC midnight.
func Normalize(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date in loc.
func Today(at time.Time, loc *time.Location) time.Time {
	return Normalize(at, loc)
}

// MidnightIn returns the instant at which the calendar date begins in loc.
func MidnightIn(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
}

// Parse reads a YYYY-MM-DD string into a normalized calendar date.
func Parse(value string) (time.Time, error) {
	return time.ParseInLocation(Layout, value, time.UTC)
}

// Format renders a normalized calendar date as YYYY-MM-DD.
func Format(date time.Time) string {
	return date.UTC().Format(Layout)
}

// DaysBetween counts whole calendar days from a to b. Both must be normalized.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// AddMonthsClamped moves date by the given number of months, clamping the day
// to the last day of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonthsClamped(date time.Time, months int, day int) time.Time {
	if day <= 0 {
		day = date.Day()
	}
	first := time.Date(date.Year(), date.Month()+time.Month(months), 1, 0, 0, 0, 0, date.Location())
	last := now.With(first).EndOfMonth().Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, date.Hour(), date.Minute(), date.Second(), date.Nanosecond(), date.Location())
}

// Weekday returns 0 for Sunday through 6 for Saturday.
func Weekday(date time.Time) int {
	return int(date.Weekday())
}
